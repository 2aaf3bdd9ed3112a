package main

import (
	skillswap "github.com/skillswap-app/skillswap-go"
)

// configSessionStore persists the coordinator session in the [auth] section
// of the config file. Other sections are read and written back untouched.
type configSessionStore struct{}

func (configSessionStore) Load() (*skillswap.Session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Auth.Username == "" {
		return nil, skillswap.ErrNoSession
	}
	return &skillswap.Session{
		Username: cfg.Auth.Username,
		Password: cfg.Auth.Password,
		User:     cfg.Auth.Profile,
	}, nil
}

func (configSessionStore) Save(s *skillswap.Session) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.Auth = ConfigAuth{Username: s.Username, Password: s.Password, Profile: s.User}
	return saveConfig(cfg)
}

func (configSessionStore) Clear() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Auth == (ConfigAuth{}) {
		return nil
	}
	cfg.Auth = ConfigAuth{}
	return saveConfig(cfg)
}
