package node

import (
    "errors"
    "fmt"
    "log"
    "time"

    "github.com/amirimatin/go-retainer/pkg/transport"
)

// Storage kinds.
const (
    StorageMemory = "memory"
    StorageBolt   = "bolt"
    StorageRedis  = "redis"
)

// Discovery kinds.
const (
    DiscoveryStatic = "static"
    DiscoveryDNS    = "dns"
    DiscoveryFile   = "file"
)

// DefaultMessageType tags retain lookups between nodes unless configured.
const DefaultMessageType transport.MessageType = 0x52455441 // "RETA"

// Config defines the inputs to assemble one node. Zero values are filled by
// withDefaults; Validate rejects what cannot be defaulted.
type Config struct {
    // Identity and addresses
    NodeID  string
    MemBind string // gossip bind host:port
    MemAdv  string // optional gossip advertise host:port
    RPCAddr string // peer gRPC bind host:port
    RPCAdv  string // optional advertised peer address; derived from RPCAddr when empty

    // MgmtAddr is the HTTP management API bind. Empty disables it.
    MgmtAddr string

    // Discovery settings
    DiscoveryKind string        // "static" (default), "dns", or "file"
    SeedsCSV      string        // kind=static
    DNSNamesCSV   string        // kind=dns
    DNSPort       int           // kind=dns (A/AAAA)
    DiscRefresh   time.Duration // cache/refresh duration for discovery
    FilePath      string        // kind=file
    FileEnv       string        // kind=file

    // Local store
    StorageKind   string // "memory" (default), "bolt" or "redis"
    DataDir       string // kind=bolt
    RedisAddr     string // kind=redis
    RedisPassword string
    RedisDB       int
    RedisPrefix   string // defaults to "retainer:<NodeID>:"

    MaxRetained    int
    MaxPayloadSize int
    DefaultTTL     time.Duration
    SweepInterval  time.Duration

    // Peer fan-out
    MessageType transport.MessageType
    PeerTimeout time.Duration // per-peer RPC bound; 0 leaves lookups unbounded
    FanoutLimit int           // concurrent peer RPCs per lookup; 0 = all at once

    // Isolated gives the node its own coordinator instead of the
    // process-wide one. Needed when several nodes share a process.
    Isolated bool

    // TLS (optional) for peer and management transports
    TLSEnable     bool
    TLSCA         string
    TLSCert       string
    TLSKey        string
    TLSServerName string
    TLSSkipVerify bool

    // QuietGossip discards memberlist's internal logging.
    QuietGossip bool

    // Logger (optional). If nil, log.Default() is used.
    Logger *log.Logger
}

func (c Config) withDefaults() Config {
    if c.Logger == nil { c.Logger = log.Default() }
    if c.DiscoveryKind == "" { c.DiscoveryKind = DiscoveryStatic }
    if c.StorageKind == "" { c.StorageKind = StorageMemory }
    if c.MemBind == "" { c.MemBind = ":7946" }
    if c.RPCAddr == "" { c.RPCAddr = ":7950" }
    if c.DiscRefresh <= 0 { c.DiscRefresh = 5 * time.Second }
    if c.SweepInterval <= 0 { c.SweepInterval = 30 * time.Second }
    if c.MessageType == 0 { c.MessageType = DefaultMessageType }
    if c.RedisPrefix == "" { c.RedisPrefix = "retainer:" + c.NodeID + ":" }
    return c
}

// Validate reports configuration errors. It performs no I/O.
func (c Config) Validate() error {
    var errs []error
    if c.NodeID == "" { errs = append(errs, errors.New("node: empty NodeID")) }
    switch c.DiscoveryKind {
    case "", DiscoveryStatic, DiscoveryDNS, DiscoveryFile:
    default:
        errs = append(errs, fmt.Errorf("node: unknown discovery kind %q", c.DiscoveryKind))
    }
    switch c.StorageKind {
    case "", StorageMemory:
    case StorageBolt:
        if c.DataDir == "" { errs = append(errs, errors.New("node: bolt storage needs DataDir")) }
    case StorageRedis:
        if c.RedisAddr == "" { errs = append(errs, errors.New("node: redis storage needs RedisAddr")) }
    default:
        errs = append(errs, fmt.Errorf("node: unknown storage kind %q", c.StorageKind))
    }
    if c.MaxRetained < 0 || c.MaxPayloadSize < 0 || c.DefaultTTL < 0 {
        errs = append(errs, errors.New("node: negative limit"))
    }
    if c.PeerTimeout < 0 { errs = append(errs, errors.New("node: negative PeerTimeout")) }
    if c.TLSEnable && (c.TLSCert == "" || c.TLSKey == "") {
        errs = append(errs, errors.New("node: TLS needs cert and key"))
    }
    return errors.Join(errs...)
}
