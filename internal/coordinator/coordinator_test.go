package coordinator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/memoryd/internal/merr"
)

func TestWithWriteSerializesCallers(t *testing.T) {
	c := New()
	var active int
	var maxActive int

	done := make(chan struct{})
	for i := 0; i < 4; i++ {
		go func() {
			_ = c.WithWrite(context.Background(), func(ctx context.Context) error {
				active++
				if active > maxActive {
					maxActive = active
				}
				active--
				return nil
			})
			done <- struct{}{}
		}()
	}
	for i := 0; i < 4; i++ {
		<-done
	}
	require.LessOrEqual(t, maxActive, 1)
}

func TestWithWriteRetriesOnBusy(t *testing.T) {
	c := New()
	attempts := 0
	err := c.WithWrite(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestWithWriteSurfacesContentionAfterExhaustion(t *testing.T) {
	c := New()
	err := c.WithWrite(context.Background(), func(ctx context.Context) error {
		return errors.New("SQLITE_BUSY: database is locked")
	})
	require.Error(t, err)
	require.Equal(t, merr.KindContention, merr.KindOf(err))
}

func TestWithWriteDoesNotRetryPermanentErrors(t *testing.T) {
	c := New()
	attempts := 0
	sentinel := errors.New("not found")
	err := c.WithWrite(context.Background(), func(ctx context.Context) error {
		attempts++
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)
	require.Equal(t, 1, attempts)
}
