package fulfillment

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/bradjohnson79/anointarray-sub003/models"
)

const (
	linkValidity        = 7 * 24 * time.Hour
	defaultMaxDownloads = 5
)

// LinkIssuer manages single-product download links: issued only for
// paid orders, invalidated by expiry, exhaustion or admin revocation.
type LinkIssuer struct {
	db     *sql.DB
	rdb    *redis.Client
	logger *zap.Logger
}

func NewLinkIssuer(db *sql.DB, rdb *redis.Client, logger *zap.Logger) *LinkIssuer {
	return &LinkIssuer{db: db, rdb: rdb, logger: logger}
}

func (l *LinkIssuer) Issue(ctx context.Context, orderID, productID string) (*models.DownloadLink, error) {
	link := &models.DownloadLink{
		ID:           uuid.NewString(),
		Token:        uuid.NewString(),
		OrderID:      orderID,
		ProductID:    productID,
		ExpiresAt:    time.Now().Add(linkValidity),
		MaxDownloads: defaultMaxDownloads,
	}

	err := l.db.QueryRowContext(ctx,
		`INSERT INTO download_links (id, token, order_id, product_id, expires_at, max_downloads)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING created_at`,
		link.ID, link.Token, link.OrderID, link.ProductID, link.ExpiresAt, link.MaxDownloads,
	).Scan(&link.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create download link: %w", err)
	}

	l.cache(ctx, link)

	l.logger.Info("Download link issued",
		zap.String("order_id", orderID),
		zap.String("product_id", productID),
		zap.String("link_id", link.ID),
	)
	return link, nil
}

// Consume validates the token and burns one download. The guarded
// UPDATE is the source of truth; the cache only short-circuits lookups.
func (l *LinkIssuer) Consume(ctx context.Context, token string) (*models.DownloadLink, error) {
	var link models.DownloadLink
	err := l.db.QueryRowContext(ctx,
		`UPDATE download_links
		 SET downloads = downloads + 1
		 WHERE token = $1
		   AND NOT revoked
		   AND expires_at > CURRENT_TIMESTAMP
		   AND downloads < max_downloads
		 RETURNING id, token, order_id, product_id, expires_at, max_downloads, downloads, revoked, created_at`,
		token,
	).Scan(&link.ID, &link.Token, &link.OrderID, &link.ProductID, &link.ExpiresAt,
		&link.MaxDownloads, &link.Downloads, &link.Revoked, &link.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrLinkUnavailable
		}
		return nil, fmt.Errorf("failed to consume download link: %w", err)
	}

	l.cache(ctx, &link)
	return &link, nil
}

// Lookup returns the link without consuming a download.
func (l *LinkIssuer) Lookup(ctx context.Context, token string) (*models.DownloadLink, error) {
	if l.rdb != nil {
		if data, err := l.rdb.Get(ctx, cacheKey(token)).Bytes(); err == nil {
			var link models.DownloadLink
			if err := json.Unmarshal(data, &link); err == nil {
				return &link, nil
			}
		}
	}

	var link models.DownloadLink
	err := l.db.QueryRowContext(ctx,
		`SELECT id, token, order_id, product_id, expires_at, max_downloads, downloads, revoked, created_at
		 FROM download_links WHERE token = $1`,
		token,
	).Scan(&link.ID, &link.Token, &link.OrderID, &link.ProductID, &link.ExpiresAt,
		&link.MaxDownloads, &link.Downloads, &link.Revoked, &link.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrLinkUnavailable
		}
		return nil, fmt.Errorf("failed to look up download link: %w", err)
	}

	l.cache(ctx, &link)
	return &link, nil
}

func (l *LinkIssuer) Revoke(ctx context.Context, linkID string) error {
	var token string
	err := l.db.QueryRowContext(ctx,
		"UPDATE download_links SET revoked = TRUE WHERE id = $1 RETURNING token",
		linkID,
	).Scan(&token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.ErrLinkUnavailable
		}
		return fmt.Errorf("failed to revoke download link: %w", err)
	}

	if l.rdb != nil {
		if err := l.rdb.Del(ctx, cacheKey(token)).Err(); err != nil {
			l.logger.Warn("Failed to evict revoked link from cache", zap.String("link_id", linkID), zap.Error(err))
		}
	}

	l.logger.Info("Download link revoked", zap.String("link_id", linkID))
	return nil
}

func (l *LinkIssuer) cache(ctx context.Context, link *models.DownloadLink) {
	if l.rdb == nil {
		return
	}
	ttl := time.Until(link.ExpiresAt)
	if ttl <= 0 {
		return
	}
	data, err := json.Marshal(link)
	if err != nil {
		return
	}
	if err := l.rdb.Set(ctx, cacheKey(link.Token), data, ttl).Err(); err != nil {
		l.logger.Warn("Failed to cache download link", zap.String("link_id", link.ID), zap.Error(err))
	}
}

func cacheKey(token string) string {
	return "download:" + token
}
