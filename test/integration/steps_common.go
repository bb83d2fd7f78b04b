package integration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cucumber/godog"

	"github.com/polarisvpn/polaris-linux/pkg/keyring"
	"github.com/polarisvpn/polaris-linux/pkg/session"
)

// StepsContext holds state shared between step definitions within a
// scenario. Every scenario gets its own fake API and daemon.
type StepsContext struct {
	api    *FakeAPI
	daemon *DaemonInstance

	loginErr          error
	twoFactorRequired bool
	searchResult      []string
}

// NewStepsContext creates a new steps context.
func NewStepsContext() *StepsContext {
	return &StepsContext{}
}

// RegisterSteps registers all step definitions.
func (s *StepsContext) RegisterSteps(sc *godog.ScenarioContext) {
	sc.After(func(ctx context.Context, scenario *godog.Scenario, err error) (context.Context, error) {
		s.cleanup()
		return ctx, nil
	})

	// Setup steps
	sc.Step(`^the API has an account "([^"]*)" with password "([^"]*)" and tier (\d+)$`, s.apiHasAccount)
	sc.Step(`^the API has an account "([^"]*)" with password "([^"]*)" and second factor code "([^"]*)"$`, s.apiHasAccountWithSecondFactor)
	sc.Step(`^the daemon is running$`, s.theDaemonIsRunning)
	sc.Step(`^I am logged in as "([^"]*)" with password "([^"]*)"$`, s.iAmLoggedIn)

	// Login steps
	sc.Step(`^I log in as "([^"]*)" with password "([^"]*)"$`, s.iLogIn)
	sc.Step(`^I submit the second factor code "([^"]*)"$`, s.iSubmitSecondFactorCode)
	sc.Step(`^I log out$`, s.iLogOut)
	sc.Step(`^the login succeeds without a second factor$`, s.theLoginSucceeds)
	sc.Step(`^the login fails with "([^"]*)"$`, s.theLoginFailsWith)
	sc.Step(`^a second factor is required$`, s.aSecondFactorIsRequired)

	// Session steps
	sc.Step(`^the session state is "([^"]*)"$`, s.theSessionStateIs)
	sc.Step(`^the session state is "([^"]*)" for user "([^"]*)"$`, s.theSessionStateIsForUser)
	sc.Step(`^the keyring holds a session for "([^"]*)"$`, s.theKeyringHoldsSessionFor)
	sc.Step(`^the keyring holds no session$`, s.theKeyringHoldsNoSession)

	// Server list steps
	sc.Step(`^the server list eventually contains (\d+) servers$`, s.theServerListEventuallyContains)
	sc.Step(`^the server list was fetched from the API (\d+) time(?:s)?$`, s.theServerListWasFetched)
	sc.Step(`^the server list was fetched from the API at least (\d+) times$`, s.theServerListWasFetchedAtLeast)
	sc.Step(`^the server list expires between (\d+) and (\d+) seconds from now$`, s.theServerListExpiresBetween)
	sc.Step(`^I search servers for "([^"]*)"$`, s.iSearchServersFor)
	sc.Step(`^the search result contains only "([^"]*)"$`, s.theSearchResultContainsOnly)
	sc.Step(`^I force a server list refresh$`, s.iForceServerListRefresh)
}

func (s *StepsContext) cleanup() {
	if s.daemon != nil {
		s.daemon.Stop()
		s.daemon = nil
	}
	if s.api != nil {
		s.api.Close()
		s.api = nil
	}
}

// Setup steps

func (s *StepsContext) ensureAPI() *FakeAPI {
	if s.api == nil {
		s.api = NewFakeAPI()
	}
	return s.api
}

func (s *StepsContext) apiHasAccount(username, password string, tier int) error {
	s.ensureAPI().AddAccount(username, password, "", tier)
	return nil
}

func (s *StepsContext) apiHasAccountWithSecondFactor(username, password, code string) error {
	s.ensureAPI().AddAccount(username, password, code, 0)
	return nil
}

func (s *StepsContext) theDaemonIsRunning() error {
	if s.daemon != nil {
		return nil
	}
	daemon, err := StartDaemon(s.ensureAPI())
	if err != nil {
		return err
	}
	s.daemon = daemon
	return nil
}

func (s *StepsContext) iAmLoggedIn(username, password string) error {
	if err := s.iLogIn(username, password); err != nil {
		return err
	}
	return s.theLoginSucceeds()
}

// Login steps

func (s *StepsContext) iLogIn(username, password string) error {
	s.twoFactorRequired, s.loginErr = s.daemon.Client.Login(context.Background(), username, password)
	return nil
}

func (s *StepsContext) iSubmitSecondFactorCode(code string) error {
	s.loginErr = s.daemon.Client.SubmitSecondFactor(context.Background(), code)
	return nil
}

func (s *StepsContext) iLogOut() error {
	return s.daemon.Client.Logout(context.Background())
}

func (s *StepsContext) theLoginSucceeds() error {
	if s.loginErr != nil {
		return fmt.Errorf("expected login to succeed, got: %v", s.loginErr)
	}
	if s.twoFactorRequired {
		return errors.New("expected no second factor to be required")
	}
	return nil
}

func (s *StepsContext) theLoginFailsWith(message string) error {
	if s.loginErr == nil {
		return fmt.Errorf("expected login to fail with %q, but it succeeded", message)
	}
	if s.loginErr.Error() != message {
		return fmt.Errorf("expected error %q, got %q", message, s.loginErr.Error())
	}
	return nil
}

func (s *StepsContext) aSecondFactorIsRequired() error {
	if s.loginErr != nil {
		return fmt.Errorf("expected login to succeed, got: %v", s.loginErr)
	}
	if !s.twoFactorRequired {
		return errors.New("expected a second factor to be required")
	}
	return nil
}

// Session steps

func (s *StepsContext) theSessionStateIs(state string) error {
	sess, err := s.daemon.Client.Session(context.Background())
	if err != nil {
		return err
	}
	if sess.State != state {
		return fmt.Errorf("expected session state %q, got %q", state, sess.State)
	}
	return nil
}

func (s *StepsContext) theSessionStateIsForUser(state, username string) error {
	sess, err := s.daemon.Client.Session(context.Background())
	if err != nil {
		return err
	}
	if sess.State != state {
		return fmt.Errorf("expected session state %q, got %q", state, sess.State)
	}
	if sess.Username != username {
		return fmt.Errorf("expected username %q, got %q", username, sess.Username)
	}
	return nil
}

func (s *StepsContext) theKeyringHoldsSessionFor(username string) error {
	data, err := s.daemon.Keyring.Get(session.KeyringService, session.KeyringAccount)
	if err != nil {
		return fmt.Errorf("no session in keyring: %w", err)
	}

	var stored session.Session
	if err := json.Unmarshal(data, &stored); err != nil {
		return fmt.Errorf("stored session is not valid JSON: %w", err)
	}
	if stored.Username != username {
		return fmt.Errorf("expected stored session for %q, got %q", username, stored.Username)
	}
	if stored.AccessToken == "" {
		return errors.New("stored session has no access token")
	}
	return nil
}

func (s *StepsContext) theKeyringHoldsNoSession() error {
	_, err := s.daemon.Keyring.Get(session.KeyringService, session.KeyringAccount)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return errors.New("expected no session in keyring, but one is stored")
}

// Server list steps

func (s *StepsContext) theServerListEventuallyContains(count int) error {
	deadline := time.Now().Add(10 * time.Second)
	var lastErr error
	for time.Now().Before(deadline) {
		servers, err := s.daemon.Client.Servers(context.Background(), "")
		if err == nil && len(servers.Servers) == count {
			return nil
		}
		lastErr = err
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("server list never reached %d servers: %v", count, lastErr)
}

func (s *StepsContext) theServerListWasFetched(count int) error {
	actual := s.api.Requests("logicals")
	if actual != count {
		return fmt.Errorf("expected %d fetches of the server list, got %d", count, actual)
	}
	return nil
}

func (s *StepsContext) theServerListWasFetchedAtLeast(count int) error {
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if s.api.Requests("logicals") >= count {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("expected at least %d fetches of the server list, got %d", count, s.api.Requests("logicals"))
}

func (s *StepsContext) theServerListExpiresBetween(minSeconds, maxSeconds int) error {
	servers, err := s.daemon.Client.Servers(context.Background(), "")
	if err != nil {
		return err
	}
	if servers.ExpiresIn < int64(minSeconds) || servers.ExpiresIn > int64(maxSeconds) {
		return fmt.Errorf("expected expiry between %ds and %ds, got %ds", minSeconds, maxSeconds, servers.ExpiresIn)
	}
	return nil
}

func (s *StepsContext) iSearchServersFor(query string) error {
	servers, err := s.daemon.Client.Servers(context.Background(), query)
	if err != nil {
		return err
	}
	s.searchResult = nil
	for _, srv := range servers.Servers {
		s.searchResult = append(s.searchResult, srv.Name)
	}
	return nil
}

func (s *StepsContext) theSearchResultContainsOnly(name string) error {
	if len(s.searchResult) != 1 || s.searchResult[0] != name {
		return fmt.Errorf("expected search result [%s], got %v", name, s.searchResult)
	}
	return nil
}

func (s *StepsContext) iForceServerListRefresh() error {
	return s.daemon.Client.RefreshServers(context.Background())
}
