package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"kyc-service/internal/config"
	"kyc-service/internal/util"
)

type ClickHouseClient struct {
	conn driver.Conn
}

func NewClickHouseClient(cfg *config.Config, logger *zap.Logger) (*ClickHouseClient, error) {
	chConfig := cfg.Clickhouse

	opts := &ch.Options{
		Addr: []string{extractHostPort(chConfig.URL)},
		Auth: ch.Auth{
			Username: chConfig.Username,
			Password: chConfig.Password,
			Database: chConfig.Database,
		},
		DialTimeout:      10 * time.Second,
		MaxOpenConns:     20,
		MaxIdleConns:     10,
		ConnMaxLifetime:  time.Hour,
		ConnOpenStrategy: ch.ConnOpenInOrder,
	}

	if cfg.IsProduction() || strings.HasPrefix(chConfig.URL, "https://") {
		tlsConfig := &tls.Config{
			MinVersion: tls.VersionTLS12,
			ServerName: extractHostname(chConfig.URL),
		}
		if chConfig.CAFile != "" {
			caCert, err := os.ReadFile(chConfig.CAFile)
			if err != nil {
				return nil, fmt.Errorf("failed to read ClickHouse CA file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caCert) {
				return nil, fmt.Errorf("failed to append ClickHouse CA cert")
			}
			tlsConfig.RootCAs = pool
		}
		opts.TLS = tlsConfig
	}

	conn, err := ch.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open ClickHouse connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	logger.Info("ClickHouse client initialized",
		zap.String("url", chConfig.URL),
		zap.String("database", chConfig.Database),
		zap.Bool("tls_enabled", opts.TLS != nil))

	return &ClickHouseClient{conn: conn}, nil
}

func (c *ClickHouseClient) Exec(ctx context.Context, query string, args ...interface{}) error {
	return c.conn.Exec(ctx, query, args...)
}

func (c *ClickHouseClient) QueryRows(ctx context.Context, query string, args ...interface{}) (driver.Rows, error) {
	return c.conn.Query(ctx, query, args...)
}

// BatchInsert sends rows in one native-protocol batch.
func (c *ClickHouseClient) BatchInsert(ctx context.Context, query string, rows [][]interface{}) error {
	batch, err := c.conn.PrepareBatch(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	for _, row := range rows {
		if err := batch.Append(row...); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("failed to append row to batch: %w", err)
		}
	}
	return batch.Send()
}

func (c *ClickHouseClient) HealthCheck(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

func (c *ClickHouseClient) Close() error {
	if c.conn == nil {
		return nil
	}
	if err := c.conn.Close(); err != nil {
		util.Error("Failed to close ClickHouse connection", zap.Error(err))
		return err
	}
	util.Info("ClickHouse connection closed")
	return nil
}

// extractHostPort turns a URL or bare host into host:port for the native
// protocol, defaulting to 9000 (9440 with TLS).
func extractHostPort(url string) string {
	clean := strings.TrimPrefix(strings.TrimPrefix(url, "http://"), "https://")
	clean = strings.TrimPrefix(clean, "clickhouse://")
	clean = strings.TrimSuffix(clean, "/")
	if !strings.Contains(clean, ":") {
		if strings.HasPrefix(url, "https://") {
			return clean + ":9440"
		}
		return clean + ":9000"
	}
	return clean
}

func extractHostname(url string) string {
	return strings.Split(extractHostPort(url), ":")[0]
}
