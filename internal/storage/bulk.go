package storage

import "github.com/jackc/pgx/v4"

type memberRow struct {
	chatID, userID int64
}

// memberBulk feeds chat_users rows to CopyFrom
type memberBulk struct {
	rows []memberRow
	idx  int
}

func copyFromMembers(chatID int64, users []int64) pgx.CopyFromSource {
	rows := make([]memberRow, 0, len(users))
	for _, u := range users {
		rows = append(rows, memberRow{chatID: chatID, userID: u})
	}
	return &memberBulk{
		rows: rows,
		idx:  -1,
	}
}

func (b *memberBulk) Next() bool {
	b.idx++
	return b.idx < len(b.rows)
}

func (b *memberBulk) Values() ([]interface{}, error) {
	r := b.rows[b.idx]
	return []interface{}{r.chatID, r.userID}, nil
}

func (b *memberBulk) Err() error {
	return nil
}
