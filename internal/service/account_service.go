package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"bushu/internal/model"
	"bushu/pkg/logger"
	"bushu/pkg/security"
	"bushu/pkg/store/sqldb"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

// ScheduleNotifier is told about account changes that affect the timer table
type ScheduleNotifier interface {
	Arm(account *model.Account)
	Cancel(accountID int64)
}

// ExecutionGuard reports executions running in this process
type ExecutionGuard interface {
	InFlight(accountID int64) bool
}

// AccountDefaults values applied when a create request omits them
type AccountDefaults struct {
	Steps          int
	ScheduleHour   int
	ScheduleMinute int
}

// accountFields is the validated shape of an account after defaults and patches are applied
type accountFields struct {
	Account        string `json:"account" validate:"required,max=200"`
	Password       string `json:"password" validate:"required,max=200"`
	Steps          int    `json:"steps" validate:"gt=0"`
	ScheduleHour   int    `json:"schedule_hour" validate:"min=0,max=23"`
	ScheduleMinute int    `json:"schedule_minute" validate:"min=0,max=59"`
}

// AccountService handles account business logic
type AccountService struct {
	repo     *sqldb.Repository
	cipher   *security.PasswordCipher
	defaults AccountDefaults
	validate *validator.Validate

	mu        sync.RWMutex
	scheduler ScheduleNotifier
	guard     ExecutionGuard
}

// NewAccountService creates a new account service. cipher may be nil.
func NewAccountService(repo *sqldb.Repository, cipher *security.PasswordCipher, defaults AccountDefaults) *AccountService {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &AccountService{
		repo:     repo,
		cipher:   cipher,
		defaults: defaults,
		validate: validate,
	}
}

// SetScheduleNotifier wires the scheduler after both sides are constructed
func (s *AccountService) SetScheduleNotifier(n ScheduleNotifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduler = n
}

// SetExecutionGuard lets Delete refuse accounts that are being executed
func (s *AccountService) SetExecutionGuard(g ExecutionGuard) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.guard = g
}

func (s *AccountService) executionGuard() ExecutionGuard {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.guard
}

func (s *AccountService) notifier() ScheduleNotifier {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scheduler
}

// Create validates and stores a new account, then arms it if enabled
func (s *AccountService) Create(ctx context.Context, spec *model.AccountSpec) (*model.Account, error) {
	if spec == nil {
		return nil, model.NewValidationError("", "request body is required")
	}

	fields := accountFields{
		Account:        strings.TrimSpace(spec.Account),
		Password:       spec.Password,
		Steps:          s.defaults.Steps,
		ScheduleHour:   s.defaults.ScheduleHour,
		ScheduleMinute: s.defaults.ScheduleMinute,
	}
	if spec.Steps != nil {
		fields.Steps = *spec.Steps
	}
	if spec.ScheduleHour != nil {
		fields.ScheduleHour = *spec.ScheduleHour
	}
	if spec.ScheduleMinute != nil {
		fields.ScheduleMinute = *spec.ScheduleMinute
	}
	enabled := true
	if spec.Enabled != nil {
		enabled = *spec.Enabled
	}

	if err := s.validateFields(&fields); err != nil {
		return nil, err
	}

	existing, err := s.repo.Account.GetByName(ctx, fields.Account)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing account: %w", err)
	}
	if existing != nil {
		return nil, model.NewValidationError("account", "account %s already exists", fields.Account)
	}

	sealed, err := s.cipher.Seal(fields.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt password: %w", err)
	}

	stored := &sqldb.Account{
		Account:        fields.Account,
		Password:       sealed,
		Steps:          fields.Steps,
		ScheduleHour:   fields.ScheduleHour,
		ScheduleMinute: fields.ScheduleMinute,
		Enabled:        enabled,
	}
	if err := s.repo.Account.Create(ctx, stored); err != nil {
		return nil, err
	}

	account := sqldb.ToAccountDomain(stored)
	account.Password = fields.Password
	logger.InfoCtx(ctx, "account created, id: %d, account: %s, schedule: %s, enabled: %v",
		account.ID, account.Account, account.ScheduleTime, account.Enabled)

	s.syncSchedule(account)
	return account, nil
}

// Get returns one account with its plaintext password
func (s *AccountService) Get(ctx context.Context, id int64) (*model.Account, error) {
	stored, err := s.repo.Account.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, fmt.Errorf("%w: %d", model.ErrAccountNotFound, id)
	}
	return s.toDomain(stored)
}

// List returns all accounts ordered by id, passwords omitted
func (s *AccountService) List(ctx context.Context) ([]*model.Account, error) {
	accounts, err := s.repo.Account.List(ctx)
	if err != nil {
		return nil, err
	}
	return toDomainListWithoutPassword(accounts), nil
}

// ListEnabled returns enabled accounts ordered by id, passwords omitted
func (s *AccountService) ListEnabled(ctx context.Context) ([]*model.Account, error) {
	accounts, err := s.repo.Account.ListEnabled(ctx)
	if err != nil {
		return nil, err
	}
	return toDomainListWithoutPassword(accounts), nil
}

// Update applies a partial update. Nothing is written when validation fails.
func (s *AccountService) Update(ctx context.Context, id int64, patch *model.AccountPatch) (*model.Account, error) {
	stored, err := s.repo.Account.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, fmt.Errorf("%w: %d", model.ErrAccountNotFound, id)
	}
	current, err := s.toDomain(stored)
	if err != nil {
		return nil, err
	}
	if patch == nil {
		return current, nil
	}

	fields := accountFields{
		Account:        current.Account,
		Password:       current.Password,
		Steps:          current.Steps,
		ScheduleHour:   current.ScheduleHour,
		ScheduleMinute: current.ScheduleMinute,
	}
	passwordChanged := false
	if patch.Account != nil {
		fields.Account = strings.TrimSpace(*patch.Account)
	}
	// an empty password in a patch keeps the current one
	if patch.Password != nil && *patch.Password != "" {
		fields.Password = *patch.Password
		passwordChanged = fields.Password != current.Password
	}
	if patch.Steps != nil {
		fields.Steps = *patch.Steps
	}
	if patch.ScheduleHour != nil {
		fields.ScheduleHour = *patch.ScheduleHour
	}
	if patch.ScheduleMinute != nil {
		fields.ScheduleMinute = *patch.ScheduleMinute
	}
	enabled := current.Enabled
	if patch.Enabled != nil {
		enabled = *patch.Enabled
	}

	if err := s.validateFields(&fields); err != nil {
		return nil, err
	}

	if fields.Account != current.Account {
		other, err := s.repo.Account.GetByName(ctx, fields.Account)
		if err != nil {
			return nil, fmt.Errorf("failed to check existing account: %w", err)
		}
		if other != nil && other.ID != id {
			return nil, model.NewValidationError("account", "account %s already exists", fields.Account)
		}
	}

	if passwordChanged {
		sealed, err := s.cipher.Seal(fields.Password)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt password: %w", err)
		}
		stored.Password = sealed
	}
	stored.Account = fields.Account
	stored.Steps = fields.Steps
	stored.ScheduleHour = fields.ScheduleHour
	stored.ScheduleMinute = fields.ScheduleMinute
	stored.Enabled = enabled

	if err := s.repo.Account.Update(ctx, stored); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %d", model.ErrAccountNotFound, id)
		}
		return nil, err
	}

	account := sqldb.ToAccountDomain(stored)
	account.Password = fields.Password
	logger.InfoCtx(ctx, "account updated, id: %d, schedule: %s, enabled: %v", id, account.ScheduleTime, account.Enabled)

	// a pending deadline survives edits that do not touch the schedule
	scheduleChanged := fields.ScheduleHour != current.ScheduleHour || fields.ScheduleMinute != current.ScheduleMinute
	if !enabled || !current.Enabled || scheduleChanged {
		s.syncSchedule(account)
	}
	return account, nil
}

// Delete removes an account and its records in one transaction, then cancels its timer.
// An execution running in this process for the account makes it fail with ErrExecutionInProgress.
func (s *AccountService) Delete(ctx context.Context, id int64) error {
	var removedRecords int64
	if g := s.executionGuard(); g != nil && g.InFlight(id) {
		return fmt.Errorf("%w: %d", model.ErrExecutionInProgress, id)
	}

	// account row goes first so a concurrent record write sees it missing
	err := s.repo.GetDatastore().ExecTx(ctx, func(txCtx context.Context) error {
		deleted, err := s.repo.Account.Delete(txCtx, id)
		if err != nil {
			return err
		}
		if !deleted {
			return fmt.Errorf("%w: %d", model.ErrAccountNotFound, id)
		}

		n, err := s.repo.Record.DeleteForAccount(txCtx, id)
		if err != nil {
			return err
		}
		removedRecords = n
		return nil
	})
	if err != nil {
		return err
	}

	logger.InfoCtx(ctx, "account deleted, id: %d, records removed: %d", id, removedRecords)
	if n := s.notifier(); n != nil {
		n.Cancel(id)
	}
	return nil
}

// SetEnabled sets the enabled flag and arms or cancels the timer
func (s *AccountService) SetEnabled(ctx context.Context, id int64, enabled bool) (*model.Account, error) {
	if err := s.repo.Account.SetEnabled(ctx, id, enabled); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %d", model.ErrAccountNotFound, id)
		}
		return nil, err
	}

	account, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	logger.InfoCtx(ctx, "account %d enabled set to %v", id, enabled)

	s.syncSchedule(account)
	return account, nil
}

// Toggle flips the enabled flag
func (s *AccountService) Toggle(ctx context.Context, id int64) (*model.Account, error) {
	stored, err := s.repo.Account.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, fmt.Errorf("%w: %d", model.ErrAccountNotFound, id)
	}
	return s.SetEnabled(ctx, id, !stored.Enabled)
}

// EnsureBootstrapAccount creates one enabled account from defaults when the store is empty.
// Returns true when an account was created.
func (s *AccountService) EnsureBootstrapAccount(ctx context.Context, account, password string) (bool, error) {
	if strings.TrimSpace(account) == "" || password == "" {
		return false, nil
	}
	count, err := s.repo.Account.Count(ctx)
	if err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}
	if _, err := s.Create(ctx, &model.AccountSpec{Account: account, Password: password}); err != nil {
		return false, fmt.Errorf("failed to seed bootstrap account: %w", err)
	}
	return true, nil
}

func (s *AccountService) syncSchedule(account *model.Account) {
	n := s.notifier()
	if n == nil {
		return
	}
	if account.Enabled {
		n.Arm(account.WithoutPassword())
	} else {
		n.Cancel(account.ID)
	}
}

func (s *AccountService) toDomain(stored *sqldb.Account) (*model.Account, error) {
	account := sqldb.ToAccountDomain(stored)
	plain, err := s.cipher.Open(stored.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt password for account %d: %w", stored.ID, err)
	}
	account.Password = plain
	return account, nil
}

func toDomainListWithoutPassword(accounts []*sqldb.Account) []*model.Account {
	result := make([]*model.Account, 0, len(accounts))
	for _, a := range accounts {
		result = append(result, sqldb.ToAccountDomain(a).WithoutPassword())
	}
	return result
}

// validateFields runs struct validation and maps the first failure to a ValidationError
func (s *AccountService) validateFields(fields *accountFields) error {
	err := s.validate.Struct(fields)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return model.NewValidationError("", "%v", err)
	}

	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return model.NewValidationError(fe.Field(), "must not be empty")
	case "gt":
		return model.NewValidationError(fe.Field(), "must be positive, got %v", fe.Value())
	case "min", "max":
		return model.NewValidationError(fe.Field(), "out of range, got %v", fe.Value())
	default:
		return model.NewValidationError(fe.Field(), "failed %s validation", fe.Tag())
	}
}
