package discovery

import (
    "context"
    "net"
    "strconv"
    "strings"
    "sync"
    "time"
)

// DNSOptions configures DNS-based discovery.
type DNSOptions struct {
    // Names are SRV records (e.g. "_retainer._udp.example.com"), hostnames
    // resolved via A/AAAA, or literal host:port pairs.
    Names []string
    // Port is used for A/AAAA answers. Defaults to 7946.
    Port int
    // Refresh controls cache staleness. Defaults to 5s.
    Refresh time.Duration
    // Timeout bounds a single refresh. Defaults to 2s.
    Timeout  time.Duration
    Resolver *net.Resolver
}

type dnsSeeds struct {
    opts  DNSOptions
    mu    sync.Mutex
    last  time.Time
    cache []string
}

// DNS returns a Discovery resolving opts.Names, caching results for
// opts.Refresh. A failed refresh keeps serving the previous answer.
func DNS(opts DNSOptions) Discovery {
    if opts.Refresh <= 0 { opts.Refresh = 5 * time.Second }
    if opts.Timeout <= 0 { opts.Timeout = 2 * time.Second }
    if opts.Port == 0 { opts.Port = 7946 }
    if opts.Resolver == nil { opts.Resolver = net.DefaultResolver }
    return &dnsSeeds{opts: opts}
}

func (d *dnsSeeds) Seeds() []string {
    d.mu.Lock()
    defer d.mu.Unlock()
    if time.Since(d.last) < d.opts.Refresh && len(d.cache) > 0 {
        return append([]string(nil), d.cache...)
    }
    ctx, cancel := context.WithTimeout(context.Background(), d.opts.Timeout)
    defer cancel()
    if res := d.resolve(ctx); len(res) > 0 || len(d.cache) == 0 {
        d.cache = res
    }
    d.last = time.Now()
    return append([]string(nil), d.cache...)
}

func (d *dnsSeeds) resolve(ctx context.Context) []string {
    var out []string
    for _, name := range d.opts.Names {
        name = strings.TrimSpace(name)
        switch {
        case name == "":
        case isSRVName(name):
            out = append(out, d.lookupSRV(ctx, name)...)
        case hasPort(name):
            out = append(out, name)
        default:
            out = append(out, d.lookupHost(ctx, name)...)
        }
    }
    return Normalize(out)
}

func (d *dnsSeeds) lookupSRV(ctx context.Context, fqdn string) []string {
    svc, proto, domain := parseSRVName(fqdn)
    if svc == "" { return nil }
    _, addrs, err := d.opts.Resolver.LookupSRV(ctx, svc, proto, domain)
    if err != nil { return nil }
    out := make([]string, 0, len(addrs))
    for _, a := range addrs {
        out = append(out, net.JoinHostPort(strings.TrimSuffix(a.Target, "."), strconv.Itoa(int(a.Port))))
    }
    return out
}

func (d *dnsSeeds) lookupHost(ctx context.Context, host string) []string {
    ips, err := d.opts.Resolver.LookupHost(ctx, host)
    if err != nil { return nil }
    out := make([]string, 0, len(ips))
    for _, ip := range ips {
        out = append(out, net.JoinHostPort(ip, strconv.Itoa(d.opts.Port)))
    }
    return out
}

func isSRVName(name string) bool { return strings.HasPrefix(name, "_") && strings.Contains(name, "._") }

func hasPort(name string) bool {
    _, port, err := net.SplitHostPort(name)
    return err == nil && port != ""
}

// parseSRVName splits "_service._proto.name".
func parseSRVName(fqdn string) (service, proto, name string) {
    parts := strings.SplitN(fqdn, ".", 3)
    if len(parts) < 3 { return "", "", "" }
    return strings.TrimPrefix(parts[0], "_"), strings.TrimPrefix(parts[1], "_"), parts[2]
}
