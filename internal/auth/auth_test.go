package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWT(t *testing.T) {
	t.Run("Valid_JWT", func(t *testing.T) {
		userID := "u1"
		tokenSecret := "validtokensecret"
		expiration := 15 * time.Second
		tokenString, err := MakeJWT(userID, tokenSecret, expiration)
		if err != nil {
			t.Fatalf("MakeJWT() error = %+v", err)
		}
		gotUserID, err := ValidateJWT(tokenString, tokenSecret)
		if err != nil {
			t.Fatalf("ValidateJWT() error = %+v", err)
		}
		if gotUserID != userID {
			t.Errorf("want = %+v, got = %+v", userID, gotUserID)
		}
	})

	t.Run("Incorrect_secret", func(t *testing.T) {
		tokenString, err := MakeJWT("u1", "validtokensecret", 15*time.Second)
		if err != nil {
			t.Fatalf("MakeJWT() error = %+v", err)
		}
		_, err = ValidateJWT(tokenString, "fakesecret")
		if err == nil {
			t.Fatal("ValidateJWT(): expected error but got none")
		}
	})

	t.Run("Expired_token", func(t *testing.T) {
		tokenString, err := MakeJWT("u1", "validtokensecret", -1*time.Second)
		if err != nil {
			t.Fatalf("MakeJWT() error = %+v", err)
		}
		_, err = ValidateJWT(tokenString, "validtokensecret")
		if err == nil {
			t.Fatal("ValidateJWT(): expected error but got none")
		}
	})

	t.Run("Corrupt_token", func(t *testing.T) {
		_, err := ValidateJWT("corrupttoken", "validtokensecret")
		if err == nil {
			t.Fatal("ValidateJWT(): expected error but got none")
		}
	})
}

func TestIdentityFromToken(t *testing.T) {
	t.Run("reads_subject_and_expiry", func(t *testing.T) {
		tokenString, err := MakeJWT("u1", "secret-the-client-never-sees", time.Minute)
		require.NoError(t, err)

		id, err := IdentityFromToken(tokenString)
		require.NoError(t, err)
		assert.Equal(t, "u1", id.UserID)
		assert.False(t, id.Expired(time.Now()))
		assert.True(t, id.Expired(time.Now().Add(2*time.Minute)))
	})

	t.Run("missing_subject", func(t *testing.T) {
		tokenString, err := MakeJWT("", "secret", time.Minute)
		require.NoError(t, err)

		_, err = IdentityFromToken(tokenString)
		assert.Error(t, err)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := IdentityFromToken("not.a.jwt")
		assert.Error(t, err)
	})
}

func TestGetUserFromContext(t *testing.T) {
	t.Run("valid_user", func(t *testing.T) {
		ctx := WithUser(context.Background(), "u1")
		gotUserID, err := GetUserFromContext(ctx)
		if err != nil {
			t.Fatalf("GetUserFromContext(): expected userID but got error = %+v", err)
		}
		if gotUserID != "u1" {
			t.Errorf("want %+v but got %+v", "u1", gotUserID)
		}
	})

	t.Run("wrong_type", func(t *testing.T) {
		ctx := context.WithValue(context.Background(), UserIDKey, 42)
		_, err := GetUserFromContext(ctx)
		if err == nil {
			t.Fatal("GetUserFromContext(): expected error but got none")
		}
	})

	t.Run("empty_context_value", func(t *testing.T) {
		ctx := context.WithValue(context.Background(), UserIDKey, "")
		_, err := GetUserFromContext(ctx)
		if err == nil {
			t.Fatal("GetUserFromContext(): expected error but got none")
		}
	})

	t.Run("no_context", func(t *testing.T) {
		_, err := GetUserFromContext(context.Background())
		if err == nil {
			t.Fatal("GetUserFromContext(): expected error but got none")
		}
	})
}
