package dialogue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"
)

// generateMethod is the unary RPC served by the model backend. Request and response
// are google.protobuf.Struct values: {system, messages[{role, content}]} -> {text}.
const generateMethod = "/tapflow.model.v1.ModelService/Generate"

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
)

// GrpcModelConfig holds configuration for the gRPC model backend.
type GrpcModelConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	RequestTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultGrpcModelConfig returns default configuration.
func DefaultGrpcModelConfig() GrpcModelConfig {
	return GrpcModelConfig{
		Address:          "localhost:50051",
		ConnectTimeout:   5 * time.Second,
		RequestTimeout:   45 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// GrpcModel calls a model backend over gRPC.
type GrpcModel struct {
	conn    *grpc.ClientConn
	addr    string
	timeout time.Duration
	logger  *slog.Logger
}

// NewGrpcModel dials the backend and waits for the connection to become ready.
func NewGrpcModel(cfg GrpcModelConfig, logger *slog.Logger) (*GrpcModel, error) {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultGrpcModelConfig()
	if cfg.Address == "" {
		cfg.Address = def.Address
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.KeepaliveTime <= 0 {
		cfg.KeepaliveTime = def.KeepaliveTime
	}
	if cfg.KeepaliveTimeout <= 0 {
		cfg.KeepaliveTimeout = def.KeepaliveTimeout
	}

	conn, err := grpc.NewClient(cfg.Address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:    cfg.KeepaliveTime,
			Timeout: cfg.KeepaliveTimeout,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create model client for %s: %w", cfg.Address, err)
	}

	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("model backend at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("connected to model backend", "address", cfg.Address)
	return &GrpcModel{conn: conn, addr: cfg.Address, timeout: cfg.RequestTimeout, logger: logger}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Generate implements Model.
func (m *GrpcModel) Generate(ctx context.Context, p Prompt) (string, error) {
	req, err := promptStruct(p)
	if err != nil {
		return "", err
	}
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	resp := &structpb.Struct{}
	if err := m.conn.Invoke(ctx, generateMethod, req, resp); err != nil {
		m.logger.Error("model generate failed", "address", m.addr, "error", err)
		return "", fmt.Errorf("generate: %w", err)
	}
	text := resp.GetFields()["text"].GetStringValue()
	if text == "" {
		return "", errEmptyReply
	}
	return text, nil
}

// Close closes the gRPC connection.
func (m *GrpcModel) Close() {
	if m.conn != nil {
		if err := m.conn.Close(); err != nil {
			m.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}

func promptStruct(p Prompt) (*structpb.Struct, error) {
	msgs := make([]any, 0, len(p.Messages))
	for _, t := range p.Messages {
		msgs = append(msgs, map[string]any{"role": string(t.Role), "content": t.Content})
	}
	s, err := structpb.NewStruct(map[string]any{
		"system":   p.System,
		"messages": msgs,
	})
	if err != nil {
		return nil, fmt.Errorf("encode prompt: %w", err)
	}
	return s, nil
}
