package killswitch

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"text/template"

	"github.com/sirupsen/logrus"
)

// tableName is the nftables table the enforcer owns. It is deleted wholesale
// on Disable, which removes every rule in one shot.
const tableName = "polaris-ks"

// rulesetTemplate blocks all output except loopback, the tunnel interface,
// DHCP, and the VPN server endpoint.
var rulesetTemplate = template.Must(template.New("ruleset").Parse(`table inet {{.Table}} {
	chain output {
		type filter hook output priority filter; policy drop;
		oif "lo" accept
		oifname "{{.TunnelInterface}}" accept
		udp dport {67, 68} accept
{{- if .ServerIP}}
		ip daddr {{.ServerIP}} accept
{{- end}}
	}
}
`))

type rulesetParams struct {
	Table           string
	TunnelInterface string
	ServerIP        string
}

// nftRunner feeds a ruleset to nft on stdin. Split out for tests.
type nftRunner func(ctx context.Context, args []string, stdin string) ([]byte, error)

func execNft(ctx context.Context, args []string, stdin string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "nft", args...)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	return cmd.CombinedOutput()
}

// NFTEnforcer implements the kill switch with nftables.
type NFTEnforcer struct {
	log             *logrus.Entry
	run             nftRunner
	tunnelInterface string
}

// NewNFTEnforcer returns an enforcer that shells out to nft.
func NewNFTEnforcer(log *logrus.Entry, tunnelInterface string) *NFTEnforcer {
	return &NFTEnforcer{
		log:             log,
		run:             execNft,
		tunnelInterface: tunnelInterface,
	}
}

func (e *NFTEnforcer) Enable(ctx context.Context, serverIP string) error {
	ruleset, err := e.renderRuleset(serverIP)
	if err != nil {
		return err
	}

	// Flushing first makes Enable idempotent and lets the server IP change
	// atomically on reconnect.
	if err := e.deleteTable(ctx); err != nil {
		return err
	}
	if out, err := e.run(ctx, []string{"-f", "-"}, ruleset); err != nil {
		return fmt.Errorf("install kill switch rules: %w: %s", err, strings.TrimSpace(string(out)))
	}

	e.log.WithField("server_ip", serverIP).Info("Kill switch enabled")
	return nil
}

func (e *NFTEnforcer) Disable(ctx context.Context) error {
	if err := e.deleteTable(ctx); err != nil {
		return err
	}
	e.log.Info("Kill switch disabled")
	return nil
}

func (e *NFTEnforcer) deleteTable(ctx context.Context) error {
	out, err := e.run(ctx, []string{"delete", "table", "inet", tableName}, "")
	if err != nil && !strings.Contains(string(out), "No such file or directory") {
		return fmt.Errorf("delete kill switch table: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (e *NFTEnforcer) renderRuleset(serverIP string) (string, error) {
	var buf bytes.Buffer
	err := rulesetTemplate.Execute(&buf, rulesetParams{
		Table:           tableName,
		TunnelInterface: e.tunnelInterface,
		ServerIP:        serverIP,
	})
	if err != nil {
		return "", fmt.Errorf("render kill switch ruleset: %w", err)
	}
	return buf.String(), nil
}

// Noop is the enforcer used when the kill switch is off.
type Noop struct{}

func (Noop) Enable(context.Context, string) error { return nil }
func (Noop) Disable(context.Context) error        { return nil }
