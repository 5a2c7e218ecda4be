package auth

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/jaa/course-relay/internal/source"
)

const portalKeychainService = "crelay.portal"

var (
	ErrPortalUserMissing  = errors.New("portal user not set")
	ErrPortalTokenMissing = errors.New("portal token not found")
)

type commandRunner func(name string, args ...string) ([]byte, error)

// PortalResolver finds the portal login. The token comes from
// CRELAY_PORTAL_TOKEN or, failing that, the macOS keychain entry for the user.
type PortalResolver struct {
	Getenv  func(string) string
	Command commandRunner
}

func ResolvePortalCredentials(user string) (source.Credentials, error) {
	return PortalResolver{
		Getenv:  os.Getenv,
		Command: runCommandOutput,
	}.Resolve(user)
}

func (r PortalResolver) Resolve(user string) (source.Credentials, error) {
	getenv := r.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	user = strings.TrimSpace(user)
	if user == "" {
		user = strings.TrimSpace(getenv("CRELAY_PORTAL_USER"))
	}
	if user == "" {
		return source.Credentials{}, ErrPortalUserMissing
	}

	if token := strings.TrimSpace(getenv("CRELAY_PORTAL_TOKEN")); token != "" {
		return source.Credentials{User: user, Token: token}, nil
	}

	command := r.Command
	if command == nil {
		command = runCommandOutput
	}
	raw, err := command(
		"security",
		"find-generic-password",
		"-s", portalKeychainService,
		"-a", user,
		"-w",
	)
	if err != nil {
		return source.Credentials{}, fmt.Errorf("%w for %s", ErrPortalTokenMissing, user)
	}
	token := strings.TrimSpace(string(raw))
	if token == "" {
		return source.Credentials{}, fmt.Errorf("%w for %s", ErrPortalTokenMissing, user)
	}
	return source.Credentials{User: user, Token: token}, nil
}

func SavePortalToken(user, token string) error {
	user = strings.TrimSpace(user)
	token = strings.TrimSpace(token)
	if user == "" || token == "" {
		return fmt.Errorf("portal user and token must not be empty")
	}
	_, err := runCommandOutput(
		"security",
		"add-generic-password",
		"-U",
		"-s", portalKeychainService,
		"-a", user,
		"-w", token,
	)
	if err != nil {
		return fmt.Errorf("save portal token to keychain: %w", err)
	}
	return nil
}

func runCommandOutput(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).Output()
}
