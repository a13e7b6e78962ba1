package cli

import (
	"encoding/json"
	"fmt"

	"github.com/zhouzirui/nova/internal/model/auth"
	"github.com/zhouzirui/nova/internal/model/chat"
	"github.com/zhouzirui/nova/internal/storage/session"
)

// loadProfile returns the stored login, or nil when there is none.
func loadProfile(store session.Store) (*auth.Profile, error) {
	data, ok, err := store.Load(auth.ProfileKey)
	if err != nil || !ok {
		return nil, err
	}
	var p auth.Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode stored profile: %w", err)
	}
	if p.Token == "" {
		return nil, nil
	}
	return &p, nil
}

func saveProfile(store session.Store, p auth.Profile) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return store.Save(auth.ProfileKey, data)
}

func clearProfile(store session.Store) error {
	return store.Delete(auth.ProfileKey)
}

// clearSession forgets the login together with the conversation kept for it.
func clearSession(store session.Store) error {
	for _, key := range []string{auth.ProfileKey, chat.TranscriptKey, chat.ServiceKey} {
		if err := store.Delete(key); err != nil {
			return err
		}
	}
	return nil
}
