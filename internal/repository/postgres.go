// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/mmeshcher/ecofund-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrDonationNotFound возвращается, если пожертвование не найдено.
var (
	ErrDonationNotFound = errors.New("donation not found")
	// ErrProjectNotFound возвращается при обращении к несуществующему проекту.
	ErrProjectNotFound = errors.New("project not found")
	// ErrInvalidTransition возвращается при недопустимом переходе статуса пожертвования.
	ErrInvalidTransition = errors.New("invalid payment status transition")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет операцию при временных ошибках БД: сериализация,
// дедлоки, обрыв соединения.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	backoff := retry.WithMaxRetries(3, retry.NewConstant(time.Second))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if isRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}

	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

const donationColumns = `id, donor_first_name, donor_last_name, donor_email, donor_phone,
	donor_street, donor_city, donor_state, donor_zip, donor_country,
	amount, currency, payment_method, payment_status, payment_id, transaction_id,
	project_id, is_anonymous, message,
	is_recurring, recurring_frequency, recurring_next_charge, recurring_end,
	receipt_sent, tax_receipt_issued, tax_receipt_number, tax_receipt_issued_at,
	source, campaign, referrer, user_agent, created_at`

func scanDonation(row pgx.Row) (*model.Donation, error) {
	var (
		d           model.Donation
		status      string
		method      string
		currency    string
		isRecurring bool
		frequency   string
		nextCharge  *time.Time
		endDate     *time.Time
	)

	err := row.Scan(
		&d.ID, &d.Donor.FirstName, &d.Donor.LastName, &d.Donor.Email, &d.Donor.Phone,
		&d.Donor.Address.Street, &d.Donor.Address.City, &d.Donor.Address.State,
		&d.Donor.Address.ZipCode, &d.Donor.Address.Country,
		&d.Amount, &currency, &method, &status, &d.PaymentID, &d.TransactionID,
		&d.ProjectID, &d.IsAnonymous, &d.Message,
		&isRecurring, &frequency, &nextCharge, &endDate,
		&d.ReceiptSent, &d.TaxReceipt.Issued, &d.TaxReceipt.Number, &d.TaxReceipt.IssuedAt,
		&d.Metadata.Source, &d.Metadata.Campaign, &d.Metadata.Referrer, &d.Metadata.UserAgent,
		&d.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Currency = model.Currency(currency)
	d.PaymentMethod = model.PaymentMethod(method)
	d.PaymentStatus = model.PaymentStatus(status)

	if isRecurring {
		d.Recurring = &model.RecurringDetails{
			Frequency:      frequency,
			NextChargeDate: nextCharge,
			EndDate:        endDate,
		}
	}

	return &d, nil
}

// CreateDonation сохраняет запись пожертвования. Уникальный индекс на паре
// (payment_method, payment_id) разрешает гонку дублирующих подтверждений:
// проигравший вставку возвращает идентификатор уже существующей записи
// с признаком created=false.
func (r *PostgresRepository) CreateDonation(ctx context.Context, d *model.Donation) (int64, bool, error) {
	var (
		frequency  string
		nextCharge *time.Time
		endDate    *time.Time
	)
	if d.Recurring != nil {
		frequency = d.Recurring.Frequency
		nextCharge = d.Recurring.NextChargeDate
		endDate = d.Recurring.EndDate
	}

	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO donations (
			donor_first_name, donor_last_name, donor_email, donor_phone,
			donor_street, donor_city, donor_state, donor_zip, donor_country,
			amount, currency, payment_method, payment_status, payment_id, transaction_id,
			project_id, is_anonymous, message,
			is_recurring, recurring_frequency, recurring_next_charge, recurring_end,
			source, campaign, referrer, user_agent
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9,
			$10, $11, $12, $13, $14, $15, $16, $17, $18,
			$19, $20, $21, $22, $23, $24, $25, $26
		)
		ON CONFLICT (payment_method, payment_id) DO NOTHING
		RETURNING id`,
		d.Donor.FirstName, d.Donor.LastName, d.Donor.Email, d.Donor.Phone,
		d.Donor.Address.Street, d.Donor.Address.City, d.Donor.Address.State,
		d.Donor.Address.ZipCode, d.Donor.Address.Country,
		d.Amount, string(d.Currency), string(d.PaymentMethod), string(d.PaymentStatus),
		d.PaymentID, d.TransactionID,
		d.ProjectID, d.IsAnonymous, d.Message,
		d.Recurring != nil, frequency, nextCharge, endDate,
		d.Metadata.Source, d.Metadata.Campaign, d.Metadata.Referrer, d.Metadata.UserAgent,
	).Scan(&id)

	if err == nil {
		return id, true, nil
	}

	duplicate := errors.Is(err, pgx.ErrNoRows)
	if !duplicate {
		var pgErr *pgconn.PgError
		duplicate = errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
	}
	if !duplicate {
		return 0, false, fmt.Errorf("insert donation: %w", err)
	}

	err = r.pool.QueryRow(ctx,
		`SELECT id FROM donations WHERE payment_method = $1 AND payment_id = $2`,
		string(d.PaymentMethod), d.PaymentID,
	).Scan(&id)
	if err != nil {
		return 0, false, fmt.Errorf("select existing donation: %w", err)
	}

	return id, false, nil
}

// GetDonationByPaymentRef возвращает пожертвование по ссылке платёжного провайдера.
func (r *PostgresRepository) GetDonationByPaymentRef(ctx context.Context, method model.PaymentMethod, paymentID string) (*model.Donation, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+donationColumns+` FROM donations WHERE payment_method = $1 AND payment_id = $2`,
		string(method), paymentID,
	)

	d, err := scanDonation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDonationNotFound
		}
		return nil, fmt.Errorf("get donation: %w", err)
	}

	return d, nil
}

// ListFilter описывает параметры выборки пожертвований.
type ListFilter struct {
	Status    model.PaymentStatus
	ProjectID *int64
	Page      int
	Limit     int
}

// ListDonations возвращает страницу пожертвований, отсортированных от новых к старым,
// и общее количество записей, подходящих под фильтр.
func (r *PostgresRepository) ListDonations(ctx context.Context, f ListFilter) ([]model.Donation, int64, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = 10
	}

	where := make([]string, 0, 2)
	args := make([]any, 0, 4)

	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("d.payment_status = $%d", len(args)))
	}
	if f.ProjectID != nil {
		args = append(args, *f.ProjectID)
		where = append(where, fmt.Sprintf("d.project_id = $%d", len(args)))
	}

	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	var total int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM donations d`+cond, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count donations: %w", err)
	}

	args = append(args, f.Limit, (f.Page-1)*f.Limit)
	query := `SELECT ` + donationQualifiedColumns + `, COALESCE(p.title, '')
		 FROM donations d
		 LEFT JOIN projects p ON p.id = d.project_id` + cond +
		fmt.Sprintf(` ORDER BY d.created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("select donations: %w", err)
	}
	defer rows.Close()

	var res []model.Donation
	for rows.Next() {
		d, err := scanDonationWithTitle(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan donation: %w", err)
		}
		res = append(res, *d)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows error: %w", err)
	}

	return res, total, nil
}

var donationQualifiedColumns = qualifyColumns(donationColumns, "d")

func qualifyColumns(cols, alias string) string {
	parts := strings.Split(cols, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func scanDonationWithTitle(rows pgx.Rows) (*model.Donation, error) {
	var (
		d           model.Donation
		status      string
		method      string
		currency    string
		isRecurring bool
		frequency   string
		nextCharge  *time.Time
		endDate     *time.Time
	)

	err := rows.Scan(
		&d.ID, &d.Donor.FirstName, &d.Donor.LastName, &d.Donor.Email, &d.Donor.Phone,
		&d.Donor.Address.Street, &d.Donor.Address.City, &d.Donor.Address.State,
		&d.Donor.Address.ZipCode, &d.Donor.Address.Country,
		&d.Amount, &currency, &method, &status, &d.PaymentID, &d.TransactionID,
		&d.ProjectID, &d.IsAnonymous, &d.Message,
		&isRecurring, &frequency, &nextCharge, &endDate,
		&d.ReceiptSent, &d.TaxReceipt.Issued, &d.TaxReceipt.Number, &d.TaxReceipt.IssuedAt,
		&d.Metadata.Source, &d.Metadata.Campaign, &d.Metadata.Referrer, &d.Metadata.UserAgent,
		&d.CreatedAt, &d.ProjectTitle,
	)
	if err != nil {
		return nil, err
	}

	d.Currency = model.Currency(currency)
	d.PaymentMethod = model.PaymentMethod(method)
	d.PaymentStatus = model.PaymentStatus(status)

	if isRecurring {
		d.Recurring = &model.RecurringDetails{
			Frequency:      frequency,
			NextChargeDate: nextCharge,
			EndDate:        endDate,
		}
	}

	return &d, nil
}

// GetDonationStats возвращает статистику завершённых пожертвований по реестру.
func (r *PostgresRepository) GetDonationStats(ctx context.Context) (*model.DonationStats, error) {
	stats := &model.DonationStats{}

	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(SUM(amount), 0)
		 FROM donations
		 WHERE payment_status = $1`,
		string(model.PaymentStatusCompleted),
	).Scan(&stats.TotalDonations, &stats.TotalAmount)
	if err != nil {
		return nil, fmt.Errorf("sum donations: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT EXTRACT(YEAR FROM created_at)::int AS year,
		        EXTRACT(MONTH FROM created_at)::int AS month,
		        COUNT(*),
		        COALESCE(SUM(amount), 0)
		 FROM donations
		 WHERE payment_status = $1
		 GROUP BY year, month
		 ORDER BY year DESC, month DESC
		 LIMIT 12`,
		string(model.PaymentStatusCompleted),
	)
	if err != nil {
		return nil, fmt.Errorf("select monthly stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m model.MonthlyStat
		if err := rows.Scan(&m.Year, &m.Month, &m.Count, &m.Amount); err != nil {
			return nil, fmt.Errorf("scan monthly stat: %w", err)
		}
		stats.MonthlyStats = append(stats.MonthlyStats, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return stats, nil
}

// RefundDonation переводит завершённое пожертвование в статус refunded и
// возвращает его сумму и проект для компенсирующего уменьшения агрегата.
// Условие в UPDATE гарантирует единственность перехода при повторных вызовах.
func (r *PostgresRepository) RefundDonation(ctx context.Context, id int64) (float64, *int64, error) {
	var (
		amount    float64
		projectID *int64
	)
	err := r.pool.QueryRow(ctx,
		`UPDATE donations
		 SET payment_status = $2
		 WHERE id = $1 AND payment_status = $3
		 RETURNING amount, project_id`,
		id, string(model.PaymentStatusRefunded), string(model.PaymentStatusCompleted),
	).Scan(&amount, &projectID)

	if err == nil {
		return amount, projectID, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, nil, fmt.Errorf("refund donation: %w", err)
	}

	var status string
	err = r.pool.QueryRow(ctx, `SELECT payment_status FROM donations WHERE id = $1`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil, ErrDonationNotFound
		}
		return 0, nil, fmt.Errorf("select donation status: %w", err)
	}

	return 0, nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, status, model.PaymentStatusRefunded)
}

// IssueTaxReceipt однократно проставляет сведения о налоговой квитанции.
// Допустимо только для пожертвований, достигших завершённого состояния.
func (r *PostgresRepository) IssueTaxReceipt(ctx context.Context, id int64, number string) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE donations
		 SET tax_receipt_issued = TRUE, tax_receipt_number = $2, tax_receipt_issued_at = now()
		 WHERE id = $1
		   AND payment_status IN ($3, $4)
		   AND NOT tax_receipt_issued`,
		id, number, string(model.PaymentStatusCompleted), string(model.PaymentStatusRefunded),
	)
	if err != nil {
		return fmt.Errorf("issue tax receipt: %w", err)
	}

	if cmdTag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	err = r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM donations WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check donation exists: %w", err)
	}
	if !exists {
		return ErrDonationNotFound
	}

	return fmt.Errorf("%w: tax receipt already issued or donation not completed", ErrInvalidTransition)
}

// GetProject возвращает проект по идентификатору.
func (r *PostgresRepository) GetProject(ctx context.Context, id int64) (*model.Project, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, title, currency, budget_target, budget_raised FROM projects WHERE id = $1`,
		id,
	)

	var (
		p        model.Project
		currency string
	)
	err := row.Scan(&p.ID, &p.Title, &currency, &p.BudgetTarget, &p.BudgetRaised)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProjectNotFound
		}
		return nil, fmt.Errorf("get project: %w", err)
	}

	p.Currency = model.Currency(currency)
	return &p, nil
}

// ApplyBudgetDelta атомарно изменяет накопленную сумму сборов проекта.
// Инкремент выполняется на стороне БД, без чтения-модификации-записи
// в приложении, поэтому корректен при параллельных пожертвованиях.
func (r *PostgresRepository) ApplyBudgetDelta(ctx context.Context, projectID int64, delta float64) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE projects SET budget_raised = budget_raised + $2 WHERE id = $1`,
		projectID, delta,
	)
	if err != nil {
		return fmt.Errorf("apply budget delta: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrProjectNotFound
	}
	return nil
}

// ProjectDrift описывает расхождение кэшированного агрегата проекта
// с суммой завершённых пожертвований по реестру.
type ProjectDrift struct {
	ProjectID int64
	Stored    float64
	Expected  float64
}

// GetDriftedProjects возвращает проекты, у которых budget_raised разошёлся
// с суммой по реестру. Сравнение выполняется в NUMERIC на стороне БД.
func (r *PostgresRepository) GetDriftedProjects(ctx context.Context) ([]ProjectDrift, error) {
	var res []ProjectDrift

	err := r.withRetry(ctx, func() error {
		rows, err := r.pool.Query(ctx,
			`SELECT p.id, p.budget_raised, COALESCE(SUM(d.amount), 0)
			 FROM projects p
			 LEFT JOIN donations d ON d.project_id = p.id AND d.payment_status = $1
			 GROUP BY p.id, p.budget_raised
			 HAVING p.budget_raised <> COALESCE(SUM(d.amount), 0)`,
			string(model.PaymentStatusCompleted),
		)
		if err != nil {
			return fmt.Errorf("select drifted projects: %w", err)
		}
		defer rows.Close()

		res = res[:0]
		for rows.Next() {
			var d ProjectDrift
			if err := rows.Scan(&d.ProjectID, &d.Stored, &d.Expected); err != nil {
				return fmt.Errorf("scan drift: %w", err)
			}
			res = append(res, d)
		}

		if err := rows.Err(); err != nil {
			return fmt.Errorf("rows error: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return res, nil
}

// RepairProjectRaised перезаписывает агрегат проекта значением, пересчитанным
// по реестру. Пересчёт и запись выполняются одним запросом, частичного
// применения не бывает.
func (r *PostgresRepository) RepairProjectRaised(ctx context.Context, projectID int64) error {
	return r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`UPDATE projects p
			 SET budget_raised = sub.total
			 FROM (
				SELECT COALESCE(SUM(amount), 0) AS total
				FROM donations
				WHERE project_id = $1 AND payment_status = $2
			 ) sub
			 WHERE p.id = $1`,
			projectID, string(model.PaymentStatusCompleted),
		)
		if err != nil {
			return fmt.Errorf("repair project raised: %w", err)
		}
		return nil
	})
}
