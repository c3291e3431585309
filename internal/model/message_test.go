package model

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestOfflineBroadcastIsExplicitOnTheWire(t *testing.T) {
	data, err := json.Marshal(&Presence{UserID: "alice-id", Online: false})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"online":false`) {
		t.Errorf("offline presence dropped the online field: %s", data)
	}
}

func TestIdentitiesDeduplicatesAliases(t *testing.T) {
	tests := []struct {
		name string
		p    Presence
		want []string
	}{
		{"both forms", Presence{UserID: "u1", Email: "a@example.com"}, []string{"u1", "a@example.com"}},
		{"email only", Presence{Email: "a@example.com"}, []string{"a@example.com"}},
		{"same value twice", Presence{UserID: "a@example.com", Email: "a@example.com"}, []string{"a@example.com"}},
		{"empty", Presence{}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.p.Identities()
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("got %v, want %v", got, tt.want)
				}
			}
		})
	}
}
