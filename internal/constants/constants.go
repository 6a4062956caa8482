package constants

import "time"

const (
	AppName = "rdpgate"
	Version = "0.4.0"
)

// Network defaults
const (
	DefaultBind           = "0.0.0.0"
	DefaultPort           = "8080"
	MinPort               = 1
	MaxPort               = 65535
	DefaultRDPPort        = 3389
	WSBufferSize          = 131072 // 128KB WebSocket buffer
	MaxWSMessageSize      = 64 * 1024
	WSWriteTimeout        = 10 * time.Second
	WSSendQueueSize       = 256
	WSCloseGrace          = 2 * time.Second
	ReadHeaderTimeout     = 10 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ShutdownTimeout       = 5 * time.Second
	MaxHeaderBytes        = 1 << 20
	DefaultAgentDialLimit = 5 * time.Second
)

// Session settings
const (
	DefaultMaxSessions       = 10
	DefaultIdleTimeout       = 15 * time.Minute
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultSweepInterval     = 30 * time.Second
	DefaultConnectTimeout    = 10 * time.Second
	DefaultWidth             = 1024
	DefaultHeight            = 768
	DefaultColorDepth        = 24
	MinSecretLength          = 16
	MaxTargetFieldLength     = 256
)

// Mock renderer
const (
	MockFrameDelay     = 50 * time.Millisecond
	MockMaxDimension   = 4096
	MockBannerWidth    = 320
	MockBannerHeight   = 64
	MockBannerRed      = 24
	MockBannerGreen    = 64
	MockBannerBlue     = 112
	MockBitsPerPixel   = 24
	BackendNameMock    = "mock"
	BackendNameAgent   = "agent"
	BackendModeAuto    = "auto"
	BackendModeMock    = "mock"
	BackendModeAgent   = "agent"
	DefaultAgentFPS    = 2
	DefaultAgentListen = ":3390"
)

// Agent link stream types, sent as the first byte of every yamux stream
const (
	StreamTypeControl byte = 1
	StreamTypeDisplay byte = 2
)

// Agent link
const (
	MaxLinkFrameSize         = 64 * 1024 * 1024
	MaxControlLineSize       = 64 * 1024
	YamuxMaxStreamWindowSize = 4 * 1024 * 1024
	YamuxAcceptBacklog       = 64
	YamuxEnableKeepAlive     = true
	YamuxKeepAliveInterval   = 30 * time.Second
)

// WebSocket close codes
const (
	CloseNormal          = 1000
	ClosePolicyViolation = 1008
	CloseInternalError   = 1011
	CloseTryAgainLater   = 1013
	CloseIdleTimeout     = 4000
)

// Rate limiting
const (
	MaxConnectionsPerIP      = 10
	DefaultMaxAuthFailures   = 5
	DefaultAuthBlockDuration = 15 * time.Minute
	MaxAuditLogsPerMinute    = 600
	MinDiskSpaceRequired     = 50 * 1024 * 1024 // 50MB
	RedisKeyPrefix           = "rdpgate:session:"
	RedisOpTimeout           = 2 * time.Second
	RedisListTimeout         = 10 * time.Second
	RedisScanCount           = 100
)

// API endpoints
const (
	EndpointWebSocket = "/rdp"
	EndpointWSAlias   = "/ws"
	EndpointHealth    = "/health"
	EndpointStats     = "/api/stats"
)

// Messages
const (
	MsgMethodNotAllowed  = "Method not allowed"
	MsgUnauthorized      = "Unauthorized"
	MsgConnLimit         = "Connection limit exceeded"
	MsgOriginRejected    = "Origin not allowed"
	MsgAuthFailed        = "Authentication failed"
	MsgCapacityExceeded  = "Gateway is at capacity, try again later"
	MsgIdleTimeout       = "Session closed after idle timeout"
	MsgBackendClosed     = "Remote desktop closed the session"
	MsgBackendFailed     = "Remote desktop connection failed"
	MsgTransportTooSlow  = "Client cannot keep up with frame delivery"
	MsgShutdown          = "Gateway is shutting down"
	MsgInvalidDimensions = "Invalid desktop dimensions"
	MsgInternalError     = "Internal gateway error"
	MsgInvalidSessionID  = "Invalid session id"
	MsgSessionNotFound   = "Session not found"
	MsgStoreUnavailable  = "Session store unavailable"
)

// Terminal colors
const (
	ColorReset = "\033[0m"
	ColorBold  = "\033[1m"
	ColorDim   = "\033[2m"
	ColorCyan  = "\033[36m"
	ColorGreen = "\033[32m"
)
