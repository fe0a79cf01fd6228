package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"spacenexus/internal/model"
)

// CreateCompany inserts a company profile. Slugs are unique.
func (s *SQLite) CreateCompany(ctx context.Context, c *model.CompanyProfile) error {
	if c.ID == "" {
		c.ID = newID()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO company_profiles (id, name, slug) VALUES (?, ?, ?)`,
		c.ID, c.Name, c.Slug,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert company %q: %w", c.Slug, ErrDuplicate)
		}
		return fmt.Errorf("insert company: %w", err)
	}
	return nil
}

// CreateNewsArticle inserts an article together with its company tags.
func (s *SQLite) CreateNewsArticle(ctx context.Context, a *model.NewsArticle) error {
	if a.ID == "" {
		a.ID = newID()
	}
	a.PublishedAt = nowOr(a.PublishedAt).Truncate(time.Second)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO news_articles (id, title, summary, url, source, published_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.Title, a.Summary, a.URL, a.Source, formatTime(a.PublishedAt),
	)
	if err != nil {
		return fmt.Errorf("insert news article: %w", err)
	}
	for _, c := range a.Companies {
		_, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO news_article_companies (article_id, company_id) VALUES (?, ?)`,
			a.ID, c.ID,
		)
		if err != nil {
			return fmt.Errorf("tag article %s with company %s: %w", a.ID, c.ID, err)
		}
	}
	return tx.Commit()
}

// CreateContractAward inserts a contract award. An empty CompanyID stores no
// company association.
func (s *SQLite) CreateContractAward(ctx context.Context, c *model.ContractAward) error {
	if c.ID == "" {
		c.ID = newID()
	}
	c.AwardDate = nowOr(c.AwardDate).Truncate(time.Second)

	var amount any
	if c.AwardAmount != nil {
		amount = *c.AwardAmount
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO government_contract_awards (id, title, agency, award_amount, award_date, company_profile_id)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.Title, c.Agency, amount, formatTime(c.AwardDate), nullString(c.CompanyID),
	)
	if err != nil {
		return fmt.Errorf("insert contract award: %w", err)
	}
	return nil
}

// CreateServiceListing inserts a marketplace listing. An empty CompanyID
// stores no company association.
func (s *SQLite) CreateServiceListing(ctx context.Context, l *model.ServiceListing) error {
	if l.ID == "" {
		l.ID = newID()
	}
	l.CreatedAt = nowOr(l.CreatedAt).Truncate(time.Second)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO service_listings (id, name, description, created_at, company_profile_id)
		 VALUES (?, ?, ?, ?, ?)`,
		l.ID, l.Name, l.Description, formatTime(l.CreatedAt), nullString(l.CompanyID),
	)
	if err != nil {
		return fmt.Errorf("insert service listing: %w", err)
	}
	return nil
}

// CreateWatchlistItem adds a company to a user's watchlist.
func (s *SQLite) CreateWatchlistItem(ctx context.Context, item *model.CompanyWatchlistItem) error {
	if item.ID == "" {
		item.ID = newID()
	}
	item.CreatedAt = nowOr(item.CreatedAt).Truncate(time.Second)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO company_watchlist_items
		 (id, user_id, company_profile_id, notify_news, notify_contracts, notify_listings, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.UserID, item.CompanyID,
		boolToInt(item.NotifyNews), boolToInt(item.NotifyContracts), boolToInt(item.NotifyListings),
		formatTime(item.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("watch company %s for user %s: %w", item.CompanyID, item.UserID, ErrDuplicate)
		}
		return fmt.Errorf("insert watchlist item: %w", err)
	}
	return nil
}

// RecentNewsArticles returns articles published at or after since that are
// tagged with at least one company.
func (s *SQLite) RecentNewsArticles(ctx context.Context, since time.Time) ([]model.NewsArticle, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT a.id, a.title, a.summary, a.url, a.source, a.published_at, c.id, c.name, c.slug
		 FROM news_articles a
		 JOIN news_article_companies t ON t.article_id = a.id
		 JOIN company_profiles c ON c.id = t.company_id
		 WHERE a.published_at >= ?
		 ORDER BY a.published_at, a.id, c.name`,
		formatTime(since),
	)
	if err != nil {
		return nil, fmt.Errorf("query news articles: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var articles []model.NewsArticle
	for rows.Next() {
		var a model.NewsArticle
		var c model.CompanyProfile
		var published string
		if err := rows.Scan(&a.ID, &a.Title, &a.Summary, &a.URL, &a.Source, &published, &c.ID, &c.Name, &c.Slug); err != nil {
			return nil, fmt.Errorf("scan news article: %w", err)
		}
		if n := len(articles); n > 0 && articles[n-1].ID == a.ID {
			articles[n-1].Companies = append(articles[n-1].Companies, c)
			continue
		}
		a.PublishedAt = parseTime(published)
		a.Companies = []model.CompanyProfile{c}
		articles = append(articles, a)
	}
	return articles, rows.Err()
}

// RecentContractAwards returns awards dated at or after since that have a
// company association. Company is nil when the associated profile is missing.
func (s *SQLite) RecentContractAwards(ctx context.Context, since time.Time) ([]model.ContractAward, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT a.id, a.title, a.agency, a.award_amount, a.award_date, a.company_profile_id, c.id, c.name, c.slug
		 FROM government_contract_awards a
		 LEFT JOIN company_profiles c ON c.id = a.company_profile_id
		 WHERE a.award_date >= ? AND a.company_profile_id IS NOT NULL
		 ORDER BY a.award_date, a.rowid`,
		formatTime(since),
	)
	if err != nil {
		return nil, fmt.Errorf("query contract awards: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var awards []model.ContractAward
	for rows.Next() {
		var a model.ContractAward
		var amount sql.NullFloat64
		var awardDate string
		var companyRef sql.NullString
		var company nullCompany
		err := rows.Scan(&a.ID, &a.Title, &a.Agency, &amount, &awardDate, &companyRef,
			&company.ID, &company.Name, &company.Slug)
		if err != nil {
			return nil, fmt.Errorf("scan contract award: %w", err)
		}
		if amount.Valid {
			v := amount.Float64
			a.AwardAmount = &v
		}
		a.AwardDate = parseTime(awardDate)
		a.CompanyID = companyRef.String
		a.Company = company.profile()
		awards = append(awards, a)
	}
	return awards, rows.Err()
}

// RecentServiceListings returns listings created at or after since that have
// a company association. Company is nil when the associated profile is missing.
func (s *SQLite) RecentServiceListings(ctx context.Context, since time.Time) ([]model.ServiceListing, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT l.id, l.name, l.description, l.created_at, l.company_profile_id, c.id, c.name, c.slug
		 FROM service_listings l
		 LEFT JOIN company_profiles c ON c.id = l.company_profile_id
		 WHERE l.created_at >= ? AND l.company_profile_id IS NOT NULL
		 ORDER BY l.created_at, l.rowid`,
		formatTime(since),
	)
	if err != nil {
		return nil, fmt.Errorf("query service listings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var listings []model.ServiceListing
	for rows.Next() {
		var l model.ServiceListing
		var created string
		var companyRef sql.NullString
		var company nullCompany
		err := rows.Scan(&l.ID, &l.Name, &l.Description, &created, &companyRef,
			&company.ID, &company.Name, &company.Slug)
		if err != nil {
			return nil, fmt.Errorf("scan service listing: %w", err)
		}
		l.CreatedAt = parseTime(created)
		l.CompanyID = companyRef.String
		l.Company = company.profile()
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

// ListWatchers returns the watchlist entries for a company that opted in to
// alerts of the given type.
func (s *SQLite) ListWatchers(ctx context.Context, companyID string, alertType model.WatchlistAlertType) ([]model.CompanyWatchlistItem, error) {
	var flag string
	switch alertType {
	case model.WatchlistNews:
		flag = "notify_news"
	case model.WatchlistContract:
		flag = "notify_contracts"
	case model.WatchlistListing:
		flag = "notify_listings"
	default:
		return nil, fmt.Errorf("unknown watchlist alert type %q", alertType)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, company_profile_id, notify_news, notify_contracts, notify_listings, created_at
		 FROM company_watchlist_items
		 WHERE company_profile_id = ? AND `+flag+` = 1
		 ORDER BY rowid`, companyID,
	)
	if err != nil {
		return nil, fmt.Errorf("query watchers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []model.CompanyWatchlistItem
	for rows.Next() {
		var it model.CompanyWatchlistItem
		var news, contracts, listings int
		var created string
		if err := rows.Scan(&it.ID, &it.UserID, &it.CompanyID, &news, &contracts, &listings, &created); err != nil {
			return nil, fmt.Errorf("scan watcher: %w", err)
		}
		it.NotifyNews = news == 1
		it.NotifyContracts = contracts == 1
		it.NotifyListings = listings == 1
		it.CreatedAt = parseTime(created)
		items = append(items, it)
	}
	return items, rows.Err()
}

// RecordWatchlistAlert inserts the dedup log row and the deliveries for one
// watcher in a single transaction. If the user was already alerted about the
// same entity the insert fails with ErrDuplicate and nothing is written.
func (s *SQLite) RecordWatchlistAlert(ctx context.Context, log *model.WatchlistAlertLog, deliveries []model.AlertDelivery) error {
	if log.ID == "" {
		log.ID = newID()
	}
	log.CreatedAt = nowOr(log.CreatedAt).Truncate(time.Second)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO watchlist_alert_logs (id, user_id, company_profile_id, alert_type, reference_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		log.ID, log.UserID, log.CompanyID, string(log.AlertType), log.ReferenceID, formatTime(log.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("watchlist alert %s/%s for user %s: %w", log.AlertType, log.ReferenceID, log.UserID, ErrDuplicate)
		}
		return fmt.Errorf("insert watchlist alert log: %w", err)
	}

	for i := range deliveries {
		if err := insertDelivery(ctx, tx, &deliveries[i], log.CreatedAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

type nullCompany struct {
	ID, Name, Slug sql.NullString
}

func (c nullCompany) profile() *model.CompanyProfile {
	if !c.ID.Valid {
		return nil
	}
	return &model.CompanyProfile{ID: c.ID.String, Name: c.Name.String, Slug: c.Slug.String}
}
