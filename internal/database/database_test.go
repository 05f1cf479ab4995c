package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigDSN(t *testing.T) {
	cfg := Config{Host: "db", Port: 5432, User: "gov", Password: "secret", Database: "workflow"}
	assert.Equal(t, "postgres://gov:secret@db:5432/workflow?sslmode=disable", cfg.DSN())

	cfg.SSLMode = "require"
	assert.Equal(t, "postgres://gov:secret@db:5432/workflow?sslmode=require", cfg.DSN())

	cfg.URL = "postgres://override/db"
	assert.Equal(t, "postgres://override/db", cfg.DSN())
}
