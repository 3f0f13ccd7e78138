package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/templui/storeauth/internal/db/dbtest"
	"github.com/templui/storeauth/internal/model"
)

func TestRefreshTokenRepository_ConsumeOnce(t *testing.T) {
	database := dbtest.New(t)
	users := NewUserRepository(database)
	tokens := NewRefreshTokenRepository(database)
	ctx := context.Background()
	u := createUser(t, users, "alice@example.com", "alice")

	rt := &model.RefreshToken{UserID: u.ID, TokenHash: "h1", ExpiresAt: testNow.Add(time.Hour), CreatedAt: testNow}
	if err := tokens.Create(ctx, rt); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rt.ID == "" {
		t.Error("Create should assign an ID")
	}

	got, err := tokens.Consume(ctx, "h1")
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if got.UserID != u.ID || !got.ExpiresAt.Equal(rt.ExpiresAt) {
		t.Errorf("unexpected consumed token: %+v", got)
	}

	_, err = tokens.Consume(ctx, "h1")
	if !errors.Is(err, ErrRefreshTokenNotFound) {
		t.Errorf("second Consume error = %v, want ErrRefreshTokenNotFound", err)
	}
}

func TestRefreshTokenRepository_ConcurrentConsume(t *testing.T) {
	database := dbtest.New(t)
	users := NewUserRepository(database)
	tokens := NewRefreshTokenRepository(database)
	ctx := context.Background()
	u := createUser(t, users, "alice@example.com", "alice")

	if err := tokens.Create(ctx, &model.RefreshToken{UserID: u.ID, TokenHash: "h1", ExpiresAt: testNow.Add(time.Hour)}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	const workers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := tokens.Consume(ctx, "h1"); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Errorf("successes = %d, want exactly 1", successes)
	}
}

func TestRefreshTokenRepository_Deletes(t *testing.T) {
	database := dbtest.New(t)
	users := NewUserRepository(database)
	tokens := NewRefreshTokenRepository(database)
	ctx := context.Background()
	alice := createUser(t, users, "alice@example.com", "alice")
	bob := createUser(t, users, "bob@example.com", "bob")

	for _, rt := range []*model.RefreshToken{
		{UserID: alice.ID, TokenHash: "a1", ExpiresAt: testNow.Add(time.Hour)},
		{UserID: alice.ID, TokenHash: "a2", ExpiresAt: testNow.Add(time.Hour)},
		{UserID: alice.ID, TokenHash: "a-old", ExpiresAt: testNow.Add(-time.Hour)},
		{UserID: bob.ID, TokenHash: "b1", ExpiresAt: testNow.Add(time.Hour)},
	} {
		if err := tokens.Create(ctx, rt); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	count, err := tokens.CountActive(ctx, alice.ID, testNow)
	if err != nil {
		t.Fatalf("CountActive: %v", err)
	}
	if count != 2 {
		t.Errorf("active sessions = %d, want 2", count)
	}

	// Another user's hash must not be deleted through alice's id.
	n, err := tokens.DeleteOne(ctx, alice.ID, "b1")
	if err != nil || n != 0 {
		t.Errorf("DeleteOne(foreign) = %d, %v; want 0, nil", n, err)
	}

	n, err = tokens.DeleteExpired(ctx, testNow)
	if err != nil || n != 1 {
		t.Errorf("DeleteExpired = %d, %v; want 1, nil", n, err)
	}

	n, err = tokens.DeleteByUserID(ctx, alice.ID)
	if err != nil || n != 2 {
		t.Errorf("DeleteByUserID = %d, %v; want 2, nil", n, err)
	}

	count, _ = tokens.CountActive(ctx, bob.ID, testNow)
	if count != 1 {
		t.Errorf("bob sessions = %d, want 1", count)
	}
}

func TestRefreshTokenRepository_CascadeOnUserDelete(t *testing.T) {
	database := dbtest.New(t)
	users := NewUserRepository(database)
	tokens := NewRefreshTokenRepository(database)
	ctx := context.Background()
	u := createUser(t, users, "alice@example.com", "alice")

	if err := tokens.Create(ctx, &model.RefreshToken{UserID: u.ID, TokenHash: "h1", ExpiresAt: testNow.Add(time.Hour)}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := database.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, u.ID); err != nil {
		t.Fatalf("delete user: %v", err)
	}

	if _, err := tokens.Consume(ctx, "h1"); !errors.Is(err, ErrRefreshTokenNotFound) {
		t.Errorf("Consume after user delete error = %v, want ErrRefreshTokenNotFound", err)
	}
}

func TestRefreshTokenRepository_ExpiryComparedAcrossZones(t *testing.T) {
	database := dbtest.New(t)
	users := NewUserRepository(database)
	tokens := NewRefreshTokenRepository(database)
	ctx := context.Background()
	u := createUser(t, users, "alice@example.com", "alice")

	// One hour in the future, expressed west of UTC.
	eastern := time.FixedZone("EDT", -4*60*60)
	if err := tokens.Create(ctx, &model.RefreshToken{UserID: u.ID, TokenHash: "h1", ExpiresAt: testNow.Add(time.Hour).In(eastern)}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	count, err := tokens.CountActive(ctx, u.ID, testNow.In(eastern))
	if err != nil || count != 1 {
		t.Fatalf("CountActive = %d, %v; want 1, nil", count, err)
	}
	n, err := tokens.DeleteExpired(ctx, testNow)
	if err != nil || n != 0 {
		t.Fatalf("DeleteExpired = %d, %v; want 0, nil", n, err)
	}
	n, err = tokens.DeleteExpired(ctx, testNow.Add(2*time.Hour).In(eastern))
	if err != nil || n != 1 {
		t.Fatalf("DeleteExpired after expiry = %d, %v; want 1, nil", n, err)
	}
}
