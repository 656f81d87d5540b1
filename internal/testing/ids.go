package testing

// ReverseIDs returns a reversed copy of ids
func ReverseIDs(ids []int64) []int64 {
	reversed := make([]int64, len(ids))
	for i, id := range ids {
		reversed[len(ids)-1-i] = id
	}
	return reversed
}

// PairsWithFirst pairs the first id with every other one,
// e.g. [0, 1, 2, 3] -> [[0,1], [0,2], [0,3]]
func PairsWithFirst(ids []int64) [][2]int64 {
	if len(ids) < 2 {
		return nil
	}
	pairs := make([][2]int64, 0, len(ids)-1)
	for _, id := range ids[1:] {
		pairs = append(pairs, [2]int64{ids[0], id})
	}
	return pairs
}
