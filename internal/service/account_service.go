package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"codesync-api/internal/domain"
	"codesync-api/internal/email"
	"codesync-api/internal/repository"
)

// AccountService coordina registro, verificacion de email, login y
// la sala actual de cada cuenta.
type AccountService struct {
	logger      *zap.Logger
	users       repository.UserRepository
	emailSender email.Sender
	limiter     LoginRateLimiter
	appBaseURL  string
}

func NewAccountService(logger *zap.Logger, users repository.UserRepository, emailSender email.Sender, limiter LoginRateLimiter, appBaseURL string) *AccountService {
	if limiter == nil {
		limiter = NewLoginRateLimiter(limiterWindow, 10)
	}
	return &AccountService{
		logger:      logger,
		users:       users,
		emailSender: emailSender,
		limiter:     limiter,
		appBaseURL:  strings.TrimRight(strings.TrimSpace(appBaseURL), "/"),
	}
}

type RegisterInput struct {
	Username string
	Email    string
	Password string
	Icon     string
}

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidEmail       = errors.New("invalid email")
	ErrInvalidHandle      = errors.New("invalid username")
	ErrWeakPassword       = errors.New("weak password")
	ErrDuplicateHandle    = errors.New("username already taken")
	ErrDuplicateEmail     = errors.New("email already registered")
	ErrUnknownEmail       = errors.New("unknown email")
	ErrTokenMismatch      = errors.New("verification token mismatch")
	ErrAlreadyVerified    = errors.New("account already verified")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrRateLimited        = errors.New("rate limited")
	ErrEmailSendFailure   = errors.New("email send failed")
)

const limiterWindow = 10 * time.Minute

// passwordSymbols es el conjunto de puntuacion aceptado por la politica
// de contraseñas; debe coincidir con la validacion del cliente.
const passwordSymbols = `!@#$%^&*(),.?":{}|<>`

// Register crea una cuenta no verificada y envia el enlace de
// verificacion. El fallo de envio no revierte el registro: el enlace
// puede re-solicitarse despues.
func (s *AccountService) Register(ctx context.Context, input RegisterInput) (domain.User, error) {
	if s.users == nil {
		return domain.User{}, errors.New("account service not configured")
	}

	emailAddr := normalizeEmail(input.Email)
	if emailAddr == "" || !strings.Contains(emailAddr, "@") {
		return domain.User{}, ErrInvalidEmail
	}
	username := strings.TrimSpace(input.Username)
	if username == "" {
		return domain.User{}, ErrInvalidHandle
	}
	if !isStrongPassword(input.Password) {
		return domain.User{}, ErrWeakPassword
	}

	hashBytes, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return domain.User{}, err
	}

	token, err := newVerifyToken()
	if err != nil {
		return domain.User{}, err
	}

	now := time.Now().UTC()
	user := domain.User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        emailAddr,
		PasswordHash: string(hashBytes),
		IsVerified:   false,
		VerifyToken:  token,
		Icon:         strings.TrimSpace(input.Icon),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.users.Create(ctx, user); err != nil {
		return domain.User{}, mapUniqueViolation(err)
	}

	if err := s.sendVerification(ctx, user, token); err != nil {
		if s.logger != nil {
			s.logger.Warn("send verification link failed", zap.Error(err), zap.String("email", emailAddr))
		}
	}

	return user, nil
}

// Verify canjea el token de verificacion enviado por correo. El segundo
// canje del mismo enlace observa ErrAlreadyVerified porque el token se
// limpia en el primer exito.
func (s *AccountService) Verify(ctx context.Context, emailAddr, token string) (domain.User, error) {
	if s.users == nil {
		return domain.User{}, errors.New("account service not configured")
	}

	emailAddr = normalizeEmail(emailAddr)
	token = strings.TrimSpace(token)
	if emailAddr == "" {
		return domain.User{}, ErrInvalidEmail
	}

	user, err := s.users.GetByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, ErrUnknownEmail
		}
		return domain.User{}, err
	}

	if user.IsVerified {
		return domain.User{}, ErrAlreadyVerified
	}
	if user.VerifyToken == "" || subtle.ConstantTimeCompare([]byte(user.VerifyToken), []byte(token)) != 1 {
		return domain.User{}, ErrTokenMismatch
	}

	now := time.Now().UTC()
	if err := s.users.MarkVerified(ctx, user.ID, now); err != nil {
		return domain.User{}, err
	}

	user.IsVerified = true
	user.VerifyToken = ""
	user.UpdatedAt = now
	return user, nil
}

// ResendVerification emite un token fresco e invalida el anterior.
func (s *AccountService) ResendVerification(ctx context.Context, emailAddr string) (domain.User, error) {
	if s.users == nil {
		return domain.User{}, errors.New("account service not configured")
	}

	emailAddr = normalizeEmail(emailAddr)
	if emailAddr == "" {
		return domain.User{}, ErrInvalidEmail
	}
	if s.limiter != nil && !s.limiter.Allow("resend:"+emailAddr) {
		return domain.User{}, ErrRateLimited
	}

	user, err := s.users.GetByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, ErrUnknownEmail
		}
		return domain.User{}, err
	}
	if user.IsVerified {
		return domain.User{}, ErrAlreadyVerified
	}

	token, err := newVerifyToken()
	if err != nil {
		return domain.User{}, err
	}
	now := time.Now().UTC()
	if err := s.users.UpdateVerifyToken(ctx, user.ID, token, now); err != nil {
		return domain.User{}, err
	}

	if err := s.sendVerification(ctx, user, token); err != nil {
		if s.logger != nil {
			s.logger.Warn("send verification link failed", zap.Error(err), zap.String("email", emailAddr))
		}
		return domain.User{}, ErrEmailSendFailure
	}

	user.VerifyToken = token
	user.UpdatedAt = now
	return user, nil
}

// dummyPasswordHash se compara cuando el email no existe para que ambos
// caminos de fallo cuesten lo mismo.
var dummyPasswordHash = []byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy")

// Authenticate devuelve ErrInvalidCredentials de forma uniforme: el
// llamador nunca distingue email desconocido de contraseña incorrecta.
func (s *AccountService) Authenticate(ctx context.Context, emailAddr, password string) (domain.User, error) {
	if s.users == nil {
		return domain.User{}, errors.New("account service not configured")
	}

	emailAddr = normalizeEmail(emailAddr)
	if emailAddr == "" || password == "" {
		return domain.User{}, ErrInvalidCredentials
	}
	if s.limiter != nil && !s.limiter.Allow("login:"+emailAddr) {
		return domain.User{}, ErrRateLimited
	}

	user, err := s.users.GetByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			_ = bcrypt.CompareHashAndPassword(dummyPasswordHash, []byte(password))
			return domain.User{}, ErrInvalidCredentials
		}
		return domain.User{}, err
	}
	if user.PasswordHash == "" {
		return domain.User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return domain.User{}, ErrInvalidCredentials
	}
	return user, nil
}

// GetProfile devuelve la cuenta asociada a un id, incluida la sala
// actual para reanudar una sesion de edicion.
func (s *AccountService) GetProfile(ctx context.Context, userID string) (domain.User, error) {
	if s.users == nil {
		return domain.User{}, errors.New("account service not configured")
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, ErrUserNotFound
		}
		return domain.User{}, err
	}
	return user, nil
}

// JoinRoom registra la sala actual con semantica last-writer-wins.
// Es estado consultivo: la admision real a la sesion de edicion la
// decide el motor de colaboracion, no este registro.
func (s *AccountService) JoinRoom(ctx context.Context, userID, roomID string) (domain.User, error) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return domain.User{}, errors.New("room id is required")
	}
	return s.setRoom(ctx, userID, &roomID)
}

// LeaveRoom limpia la sala actual.
func (s *AccountService) LeaveRoom(ctx context.Context, userID string) (domain.User, error) {
	return s.setRoom(ctx, userID, nil)
}

func (s *AccountService) setRoom(ctx context.Context, userID string, roomID *string) (domain.User, error) {
	if s.users == nil {
		return domain.User{}, errors.New("account service not configured")
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, ErrUserNotFound
		}
		return domain.User{}, err
	}

	now := time.Now().UTC()
	if err := s.users.SetCurrentRoom(ctx, user.ID, roomID, now); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, ErrUserNotFound
		}
		return domain.User{}, err
	}

	user.CurrentRoom = roomID
	user.UpdatedAt = now
	return user, nil
}

func (s *AccountService) sendVerification(ctx context.Context, user domain.User, token string) error {
	if s.emailSender == nil {
		return errors.New("email sender not configured")
	}
	link := s.verificationLink(user.Email, token)
	return s.emailSender.SendVerificationLink(ctx, user.Email, user.Username, link)
}

func (s *AccountService) verificationLink(emailAddr, token string) string {
	values := url.Values{}
	values.Set("email", emailAddr)
	values.Set("token", token)
	return s.appBaseURL + "/verify-email?" + values.Encode()
}

// newVerifyToken genera 128 bits de crypto/rand en base64 url-safe.
func newVerifyToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// mapUniqueViolation traduce violaciones de constraint unico a errores
// del dominio; cualquier otro error pasa sin tocar.
func mapUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return err
	}
	switch pgErr.ConstraintName {
	case "users_username_key":
		return ErrDuplicateHandle
	case "users_email_key":
		return ErrDuplicateEmail
	}
	return err
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// isStrongPassword exige minimo 8 caracteres con mayuscula, minuscula,
// digito y un simbolo de passwordSymbols.
func isStrongPassword(password string) bool {
	if len(password) < 8 {
		return false
	}
	var hasUpper, hasLower, hasDigit, hasSymbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case strings.ContainsRune(passwordSymbols, r):
			hasSymbol = true
		}
	}
	return hasUpper && hasLower && hasDigit && hasSymbol
}

// LoginRateLimiter limita la frecuencia de intentos por clave.
type LoginRateLimiter interface {
	Allow(key string) bool
}

type loginRateLimiter struct {
	mu     sync.Mutex
	window time.Duration
	max    int
	hits   map[string][]time.Time
}

// NewLoginRateLimiter crea un rate limiter en memoria.
func NewLoginRateLimiter(window time.Duration, max int) LoginRateLimiter {
	if max <= 0 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &loginRateLimiter{
		window: window,
		max:    max,
		hits:   make(map[string][]time.Time),
	}
}

func (l *loginRateLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now().UTC()
	cutoff := now.Add(-l.window)
	entries := l.hits[key]
	kept := entries[:0]
	for _, ts := range entries {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.hits[key] = kept
		return false
	}
	kept = append(kept, now)
	l.hits[key] = kept
	return true
}
