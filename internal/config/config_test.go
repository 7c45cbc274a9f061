package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDatabaseConfig_DSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "db.internal",
		Port:     5432,
		User:     "notify",
		Password: "s3cret",
		Name:     "notify_db",
		SSLMode:  "disable",
	}

	assert.Equal(t,
		"host=db.internal port=5432 user=notify password=s3cret dbname=notify_db sslmode=disable",
		cfg.DSN())
}
