package projection

import (
	"errors"
	"testing"
)

func TestCheckVersion(t *testing.T) {
	cases := []struct {
		name     string
		current  int64
		incoming int64
		want     error
	}{
		{"next version applies", 2, 3, nil},
		{"first event after creation", 0, 1, nil},
		{"exact duplicate", 3, 3, ErrSameVersion},
		{"stale event", 5, 2, ErrLowerVersion},
		{"projection behind", 1, 4, ErrAheadVersion},
		{"gap of one", 1, 3, ErrAheadVersion},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := CheckVersion(tc.current, tc.incoming)
			if tc.want == nil {
				if err != nil {
					t.Fatalf("expected apply, got %v", err)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}
