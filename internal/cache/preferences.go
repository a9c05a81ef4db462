package cache

import (
	"encoding/json"
	"errors"
	"strconv"

	"tasknest/backend"
)

// LoadPreferences rebuilds preferences from the cache. Missing or corrupt
// entries fall back to defaults.
func LoadPreferences(s Store) backend.Preferences {
	prefs := backend.DefaultPreferences()

	if raw, ok := get(s, KeyProfile); ok {
		var p backend.Profile
		if json.Unmarshal([]byte(raw), &p) == nil {
			prefs.Profile = p
		}
	}
	if raw, ok := get(s, KeyDarkMode); ok {
		var v bool
		if json.Unmarshal([]byte(raw), &v) == nil {
			prefs.DarkMode = v
		}
	}
	if raw, ok := get(s, KeyThemeColor); ok && raw != "" {
		prefs.AccentColor = raw
	}
	if raw, ok := get(s, KeyReminders); ok {
		var v bool
		if json.Unmarshal([]byte(raw), &v) == nil {
			prefs.RemindersEnabled = v
		}
	}
	if raw, ok := get(s, KeyAlarmSound); ok {
		var a backend.AlarmSound
		if json.Unmarshal([]byte(raw), &a) == nil {
			prefs.AlarmSound = a
		}
	}
	if raw, ok := get(s, KeyPremium); ok {
		prefs.Premium = raw == "true"
	}

	return prefs
}

func get(s Store, key string) (string, bool) {
	v, ok, err := s.Get(key)
	if err != nil {
		return "", false
	}
	return v, ok
}

// SavePreferences mirrors a full preference set into the cache.
func SavePreferences(s Store, prefs backend.Preferences) error {
	profile, err := json.Marshal(prefs.Profile)
	if err != nil {
		return err
	}

	var errs []error
	errs = append(errs,
		s.Set(KeyProfile, string(profile)),
		s.Set(KeyDarkMode, strconv.FormatBool(prefs.DarkMode)),
		s.Set(KeyThemeColor, prefs.AccentColor),
		s.Set(KeyReminders, strconv.FormatBool(prefs.RemindersEnabled)),
		s.Set(KeyPremium, strconv.FormatBool(prefs.Premium)),
	)

	if prefs.AlarmSound.IsZero() {
		errs = append(errs, s.Remove(KeyAlarmSound))
	} else {
		sound, err := json.Marshal(prefs.AlarmSound)
		if err != nil {
			return err
		}
		errs = append(errs, s.Set(KeyAlarmSound, string(sound)))
	}

	return errors.Join(errs...)
}

// PurgeAccount removes the per-account entries so a different account
// does not inherit stale values.
func PurgeAccount(s Store) error {
	var errs []error
	for _, key := range AccountKeys {
		errs = append(errs, s.Remove(key))
	}
	return errors.Join(errs...)
}
