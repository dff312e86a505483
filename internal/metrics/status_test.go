package metrics

import (
	"reflect"
	"testing"
)

func TestFlattenStatusBuckets(t *testing.T) {
	tests := []struct {
		name    string
		buckets map[string]int
		want    []StatusBucket
	}{
		{
			name:    "nil buckets",
			buckets: nil,
			want:    nil,
		},
		{
			name:    "empty buckets",
			buckets: map[string]int{},
			want:    nil,
		},
		{
			name:    "single bucket",
			buckets: map[string]int{"200": 10},
			want:    []StatusBucket{{Code: "200", Count: 10}},
		},
		{
			name:    "sorted by count desc",
			buckets: map[string]int{"200": 10, "500": 5, "0": 20},
			want: []StatusBucket{
				{Code: "0", Count: 20},
				{Code: "200", Count: 10},
				{Code: "500", Count: 5},
			},
		},
		{
			name:    "ties sorted numerically",
			buckets: map[string]int{"503": 2, "40": 2, "404": 2},
			want: []StatusBucket{
				{Code: "40", Count: 2},
				{Code: "404", Count: 2},
				{Code: "503", Count: 2},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FlattenStatusBuckets(tt.buckets)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("FlattenStatusBuckets() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFriendlyErrorName(t *testing.T) {
	tests := map[string]string{
		"":                                      "Unknown error",
		"*url.Error":                            "Request URL error",
		"*net.OpError":                          "Network error",
		"*net.DNSError":                         "DNS lookup failed",
		"context.deadlineExceededError":         "Context deadline exceeded",
		"*errors.errorString":                   "Error String (errors)",
		"*main.customFailure":                   "Custom Failure",
		"*github.com/x/y/tls.RecordHeaderError": "Record Header Error (tls)",
	}
	for in, want := range tests {
		if got := FriendlyErrorName(in); got != want {
			t.Errorf("FriendlyErrorName(%q) = %q, want %q", in, got, want)
		}
	}
}
