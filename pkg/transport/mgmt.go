package transport

import (
    "context"
    "time"

    "github.com/amirimatin/go-retainer/pkg/retain"
)

// NodeStatus is the JSON snapshot served on the management /status endpoint.
// Retained and MaxRetained are node-local values.
type NodeStatus struct {
    NodeID      string      `json:"nodeId"`
    RPCAddr     string      `json:"rpcAddr"`
    MgmtAddr    string      `json:"mgmtAddr,omitempty"`
    MessageType MessageType `json:"messageType"`
    Peers       []Peer      `json:"peers"`
    Retained    int         `json:"retained"`
    MaxRetained int         `json:"maxRetained"`
    Storage     string      `json:"storage"`
    Warnings    []string    `json:"warnings,omitempty"`
}

// SetRetainRequest publishes a retained message through the management API.
type SetRetainRequest struct {
    Topic   retain.TopicName  `json:"topic"`
    Payload []byte            `json:"payload"`
    QoS     byte              `json:"qos"`
    From    string            `json:"from,omitempty"`
    TTL     time.Duration     `json:"ttl,omitempty"`
    Props   map[string]string `json:"properties,omitempty"`
}

// GetRetainsResponse lists retained messages for a filter.
type GetRetainsResponse struct {
    Filter  retain.TopicFilter   `json:"filter"`
    Scope   string               `json:"scope"`
    Retains []retain.TopicRetain `json:"retains"`
    Error   string               `json:"error,omitempty"`
}

type (
    StatusFunc     func(ctx context.Context) (NodeStatus, error)
    GetRetainsFunc func(ctx context.Context, filter retain.TopicFilter, local bool) ([]retain.TopicRetain, error)
    SetRetainFunc  func(ctx context.Context, req SetRetainRequest) error
)

// MgmtHandlers are the node callbacks exposed by a management server. Nil
// handlers answer "not supported".
type MgmtHandlers struct {
    Status StatusFunc
    Get    GetRetainsFunc
    Set    SetRetainFunc
}

// MgmtServer exposes the management API.
type MgmtServer interface {
    Start(ctx context.Context, h MgmtHandlers) error
    Addr() string
    Stop(ctx context.Context) error
}

// MgmtClient calls a node's management API (used by the CLI and tests).
type MgmtClient interface {
    GetStatus(ctx context.Context, addr string) (NodeStatus, error)
    GetRetains(ctx context.Context, addr string, filter retain.TopicFilter, local bool) (GetRetainsResponse, error)
    PostRetain(ctx context.Context, addr string, req SetRetainRequest) error
}
