package keyring

import (
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	secretsDest       = "org.freedesktop.secrets"
	secretsPath       = dbus.ObjectPath("/org/freedesktop/secrets")
	defaultCollection = dbus.ObjectPath("/org/freedesktop/secrets/aliases/default")

	serviceIface    = "org.freedesktop.Secret.Service"
	collectionIface = "org.freedesktop.Secret.Collection"
	itemIface       = "org.freedesktop.Secret.Item"
	promptIface     = "org.freedesktop.Secret.Prompt"
)

// dbusSecret mirrors the Secret struct of the Secret Service wire format.
type dbusSecret struct {
	Session     dbus.ObjectPath
	Parameters  []byte
	Value       []byte
	ContentType string
}

// SecretService is a Keyring backed by the freedesktop Secret Service.
type SecretService struct {
	conn *dbus.Conn
}

// NewSecretService connects to the session bus. The caller owns the
// connection for the lifetime of the keyring.
func NewSecretService() (*SecretService, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect to session bus: %w", err)
	}
	return &SecretService{conn: conn}, nil
}

func (s *SecretService) openSession() (dbus.ObjectPath, error) {
	svc := s.conn.Object(secretsDest, secretsPath)

	var output dbus.Variant
	var session dbus.ObjectPath
	err := svc.Call(serviceIface+".OpenSession", 0, "plain", dbus.MakeVariant("")).
		Store(&output, &session)
	if err != nil {
		return "", fmt.Errorf("open secret service session: %w", err)
	}
	return session, nil
}

func attributes(service, account string) map[string]string {
	return map[string]string{
		"service": service,
		"account": account,
	}
}

// Set stores the secret, replacing any existing item with the same
// attributes.
func (s *SecretService) Set(service, account string, secret []byte) error {
	session, err := s.openSession()
	if err != nil {
		return err
	}
	defer s.closeSession(session)

	props := map[string]dbus.Variant{
		itemIface + ".Label":      dbus.MakeVariant(service + "/" + account),
		itemIface + ".Attributes": dbus.MakeVariant(attributes(service, account)),
	}
	value := dbusSecret{
		Session:     session,
		Value:       secret,
		ContentType: "application/octet-stream",
	}

	collection := s.conn.Object(secretsDest, defaultCollection)

	var item, prompt dbus.ObjectPath
	err = collection.Call(collectionIface+".CreateItem", 0, props, value, true).
		Store(&item, &prompt)
	if err != nil {
		return fmt.Errorf("create keyring item: %w", err)
	}
	return nil
}

// Get retrieves the secret, or ErrNotFound.
func (s *SecretService) Get(service, account string) ([]byte, error) {
	session, err := s.openSession()
	if err != nil {
		return nil, err
	}
	defer s.closeSession(session)

	item, err := s.findItem(service, account)
	if err != nil {
		return nil, err
	}

	var secret dbusSecret
	err = s.conn.Object(secretsDest, item).
		Call(itemIface+".GetSecret", 0, session).
		Store(&secret)
	if err != nil {
		return nil, fmt.Errorf("read keyring item: %w", err)
	}
	return secret.Value, nil
}

// Delete removes the secret. Deleting a missing item is not an error.
func (s *SecretService) Delete(service, account string) error {
	item, err := s.findItem(service, account)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	var prompt dbus.ObjectPath
	err = s.conn.Object(secretsDest, item).
		Call(itemIface+".Delete", 0).
		Store(&prompt)
	if err != nil {
		return fmt.Errorf("delete keyring item: %w", err)
	}
	return nil
}

func (s *SecretService) findItem(service, account string) (dbus.ObjectPath, error) {
	svc := s.conn.Object(secretsDest, secretsPath)

	var unlocked, locked []dbus.ObjectPath
	err := svc.Call(serviceIface+".SearchItems", 0, attributes(service, account)).
		Store(&unlocked, &locked)
	if err != nil {
		return "", fmt.Errorf("search keyring items: %w", err)
	}

	if len(unlocked) > 0 {
		return unlocked[0], nil
	}
	if len(locked) > 0 {
		return "", fmt.Errorf("keyring item for %s/%s is locked", service, account)
	}
	return "", ErrNotFound
}

func (s *SecretService) closeSession(session dbus.ObjectPath) {
	_ = s.conn.Object(secretsDest, session).Call("org.freedesktop.Secret.Session.Close", 0).Err
}
