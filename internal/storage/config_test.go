package storage

import (
	"testing"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/stretchr/testify/require"
)

func TestDSN(t *testing.T) {
	config := Config{
		User:     "a",
		Password: "b",
		Host:     "c",
		Port:     5432,
		DBName:   "d",
	}
	expected := "user=a password=b host=c port=5432 dbname=d sslmode=disable"
	actual := config.DSN()
	require.Equal(t, expected, actual)
}

func TestDirectKey(t *testing.T) {
	require.Equal(t, "3:7", DirectKey(3, 7))
	require.Equal(t, "3:7", DirectKey(7, 3))
	require.Equal(t, "5:5", DirectKey(5, 5))
}

func TestMaxConns(t *testing.T) {
	config, err := pgxpool.ParseConfig(Config{User: "a", Password: "b", Host: "c", Port: 5432, DBName: "d"}.DSN())
	require.NoError(t, err)
	defaultMax := config.MaxConns

	MaxConns(0).apply(config)
	require.Equal(t, defaultMax, config.MaxConns)

	MaxConns(7).apply(config)
	require.Equal(t, int32(7), config.MaxConns)
}
