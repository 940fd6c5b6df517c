package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserSetAndCheckPassword(t *testing.T) {
	u := &User{}

	require.NoError(t, u.SetPassword("s3cret-pass"))
	require.NotEmpty(t, u.Password)
	assert.NotEqual(t, "s3cret-pass", u.Password, "password must be stored hashed")

	assert.True(t, u.CheckPassword("s3cret-pass"))
	assert.False(t, u.CheckPassword("wrong-pass"))
}

func TestUserIsActive(t *testing.T) {
	t.Parallel()

	assert.True(t, (&User{Status: STATUS_ACTIVE}).IsActive())
	assert.False(t, (&User{Status: STATUS_INACTIVE}).IsActive())
	assert.False(t, (&User{Status: STATUS_DISABLED}).IsActive())
}
