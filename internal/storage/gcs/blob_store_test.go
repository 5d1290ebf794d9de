package gcs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
)

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "pages"})
	require.Error(t, err)
}

func TestAlreadyStored(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "precondition failed", err: &googleapi.Error{Code: http.StatusPreconditionFailed}, want: true},
		{name: "wrapped", err: fmt.Errorf("close: %w", &googleapi.Error{Code: http.StatusPreconditionFailed}), want: true},
		{name: "forbidden", err: &googleapi.Error{Code: http.StatusForbidden}, want: false},
		{name: "plain", err: errors.New("boom"), want: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, alreadyStored(tc.err))
		})
	}
}

func TestPutObjectRejectsEmptyPath(t *testing.T) {
	t.Parallel()

	s := &BlobStore{bucket: "pages"}
	_, err := s.PutObject(context.Background(), "  ", "text/html", []byte("x"))
	require.Error(t, err)
}
