package verify

import (
	"context"
	"net"
	"slices"
	"strings"
	"time"

	emailverifier "github.com/AfterShip/email-verifier"
	"github.com/mcnijman/go-emailaddress"
	"github.com/miekg/dns"
	"github.com/rotisserie/eris"
)

// SyntaxChecker validates the address form.
type SyntaxChecker interface {
	CheckSyntax(address string) error
}

// MXResolver returns the mail exchangers for a domain, best first. A domain
// that definitively has none returns an error matching IsNoMX.
type MXResolver interface {
	LookupMX(ctx context.Context, domain string) ([]string, error)
}

// MailboxProber talks SMTP to a domain's exchangers.
type MailboxProber interface {
	CatchAll(ctx context.Context, domain string) (bool, error)
	Mailbox(ctx context.Context, domain, local string) (bool, error)
}

// FlagChecker annotates addresses without network access.
type FlagChecker interface {
	IsDisposable(domain string) bool
	IsRoleAccount(local string) bool
	IsFreeDomain(domain string) bool
}

// ErrNoMX reports that a domain does not exist or publishes no MX records.
var ErrNoMX = eris.New("verify: no mail exchanger")

// IsNoMX reports whether err is a definitive missing-MX answer.
func IsNoMX(err error) bool {
	return err != nil && eris.Is(err, ErrNoMX)
}

// AddressSyntax validates addresses with go-emailaddress.
type AddressSyntax struct{}

// CheckSyntax implements SyntaxChecker.
func (AddressSyntax) CheckSyntax(address string) error {
	if _, err := emailaddress.Parse(address); err != nil {
		return eris.Wrap(err, "verify: syntax")
	}
	return nil
}

// DefaultDNSServers are queried when none are configured.
var DefaultDNSServers = []string{"8.8.8.8:53", "1.1.1.1:53"}

// DNSResolver looks up MX records directly against configured resolvers.
type DNSResolver struct {
	servers []string
	client  *dns.Client
}

// NewDNSResolver creates a resolver. Servers without a port get :53.
func NewDNSResolver(servers []string, timeout time.Duration) *DNSResolver {
	if len(servers) == 0 {
		servers = DefaultDNSServers
	}
	norm := make([]string, 0, len(servers))
	for _, s := range servers {
		if _, _, err := net.SplitHostPort(s); err != nil {
			s += ":53"
		}
		norm = append(norm, s)
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &DNSResolver{servers: norm, client: &dns.Client{Timeout: timeout}}
}

// LookupMX implements MXResolver. Servers are tried in order until one gives
// an authoritative answer; NXDOMAIN or an empty answer is definitive.
func (r *DNSResolver) LookupMX(ctx context.Context, domain string) ([]string, error) {
	if domain == "" {
		return nil, eris.Wrap(ErrNoMX, "verify: empty domain")
	}
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(domain), dns.TypeMX)
	msg.RecursionDesired = true

	var lastErr error
	for _, server := range r.servers {
		resp, _, err := r.client.ExchangeContext(ctx, msg, server)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}
		switch resp.Rcode {
		case dns.RcodeNameError:
			return nil, eris.Wrapf(ErrNoMX, "verify: %s does not exist", domain)
		case dns.RcodeSuccess:
			hosts := mxHosts(resp.Answer)
			if len(hosts) == 0 {
				return nil, eris.Wrapf(ErrNoMX, "verify: %s has no mx records", domain)
			}
			return hosts, nil
		default:
			lastErr = eris.Errorf("rcode %s from %s", dns.RcodeToString[resp.Rcode], server)
		}
	}
	if lastErr == nil {
		lastErr = eris.New("no dns servers")
	}
	return nil, eris.Wrapf(lastErr, "verify: mx lookup %s", domain)
}

func mxHosts(answer []dns.RR) []string {
	var mxs []*dns.MX
	for _, rr := range answer {
		if mx, ok := rr.(*dns.MX); ok {
			mxs = append(mxs, mx)
		}
	}
	slices.SortStableFunc(mxs, func(a, b *dns.MX) int { return int(a.Preference) - int(b.Preference) })
	hosts := make([]string, 0, len(mxs))
	for _, mx := range mxs {
		hosts = append(hosts, strings.TrimSuffix(mx.Mx, "."))
	}
	return hosts
}

// ProberConfig configures the SMTP conversation.
type ProberConfig struct {
	FromEmail        string
	HelloName        string
	ConnectTimeout   time.Duration
	OperationTimeout time.Duration
}

// SMTPProber probes mailboxes with AfterShip's email-verifier. It also
// provides the offline disposable, role and free-provider lookups.
type SMTPProber struct {
	v *emailverifier.Verifier
}

// NewSMTPProber creates a prober with SMTP checks enabled.
func NewSMTPProber(cfg ProberConfig) *SMTPProber {
	v := emailverifier.NewVerifier().EnableSMTPCheck()
	if cfg.ConnectTimeout > 0 {
		v = v.ConnectTimeout(cfg.ConnectTimeout)
	}
	if cfg.OperationTimeout > 0 {
		v = v.OperationTimeout(cfg.OperationTimeout)
	}
	if cfg.FromEmail != "" {
		v = v.FromEmail(cfg.FromEmail)
	}
	if cfg.HelloName != "" {
		v = v.HelloName(cfg.HelloName)
	}
	return &SMTPProber{v: v}
}

// CatchAll reports whether the domain accepts mail for a random recipient.
func (p *SMTPProber) CatchAll(ctx context.Context, domain string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	res, err := p.v.CheckSMTP(domain, "")
	if err != nil {
		return false, eris.Wrapf(err, "verify: catch-all probe %s", domain)
	}
	return res.CatchAll, nil
}

// Mailbox reports whether the exchanger accepts RCPT TO for local@domain.
func (p *SMTPProber) Mailbox(ctx context.Context, domain, local string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	res, err := p.v.CheckSMTP(domain, local)
	if err != nil {
		return false, eris.Wrapf(err, "verify: smtp probe %s@%s", local, domain)
	}
	if res.FullInbox || res.Disabled {
		return false, nil
	}
	return res.Deliverable || res.CatchAll, nil
}

// IsDisposable implements FlagChecker.
func (p *SMTPProber) IsDisposable(domain string) bool { return p.v.IsDisposable(domain) }

// IsRoleAccount implements FlagChecker.
func (p *SMTPProber) IsRoleAccount(local string) bool { return p.v.IsRoleAccount(local) }

// IsFreeDomain implements FlagChecker.
func (p *SMTPProber) IsFreeDomain(domain string) bool { return p.v.IsFreeDomain(domain) }
