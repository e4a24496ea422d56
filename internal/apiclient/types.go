package apiclient

// User mirrors the backend user payload.
type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// AuthSession is returned by the sign-in endpoints.
type AuthSession struct {
	User  User   `json:"user"`
	Token string `json:"token"`
}

// VerificationKind scopes a verification code to its purpose.
type VerificationKind string

const (
	VerificationSignup        VerificationKind = "verification"
	VerificationPasswordReset VerificationKind = "password_reset"
)

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type googleLoginRequest struct {
	Code  string `json:"code"`
	State string `json:"state"`
}

type sendVerificationRequest struct {
	Email string `json:"email"`
	Type  string `json:"type"`
	Name  string `json:"name,omitempty"`
}

type verifyEmailRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
	Type  string `json:"type"`
}

type resetPasswordRequest struct {
	Email       string `json:"email"`
	Code        string `json:"code"`
	NewPassword string `json:"new_password"`
}

type updateProfileRequest struct {
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatar,omitempty"`
}

type balancePayload struct {
	Balance int64  `json:"balance"`
	UserID  string `json:"user_id"`
}

type transactionPayload struct {
	ID            string `json:"id"`
	Type          string `json:"type"`
	Amount        int64  `json:"amount"`
	Description   string `json:"description"`
	CreatedAtUnix int64  `json:"created_at"`
}

type transactionsPayload struct {
	Transactions []transactionPayload `json:"transactions"`
	Total        int64                `json:"total"`
	Page         int                  `json:"page"`
	Limit        int                  `json:"limit"`
}

type consumeRequest struct {
	Amount         int64  `json:"amount"`
	Description    string `json:"description"`
	IdempotencyKey string `json:"idempotency_key"`
}

type consumePayload struct {
	TransactionID string `json:"transaction_id"`
	NewBalance    int64  `json:"new_balance"`
}

// CreditPackage is one purchasable credit bundle from the pricing catalog.
type CreditPackage struct {
	PriceUSD int64 `json:"price_usd"`
	Credits  int64 `json:"credits"`
}

type packagesPayload struct {
	Packages         []CreditPackage `json:"packages"`
	CreditsPerDollar int64           `json:"credits_per_dollar"`
}

type rechargeRequest struct {
	Amount        int64  `json:"amount"`
	PaymentMethod string `json:"payment_method"`
}

type rechargePayload struct {
	CheckoutURL string `json:"checkout_url"`
}

// GeneratedImage is one produced image.
type GeneratedImage struct {
	ID          string `json:"id"`
	URL         string `json:"url"`
	Prompt      string `json:"prompt"`
	Style       string `json:"style"`
	Transparent bool   `json:"transparent"`
}

// GenerationResult is the outcome of one generation request.
type GenerationResult struct {
	Images           []GeneratedImage `json:"images"`
	CreditsConsumed  int64            `json:"credits_consumed"`
	RemainingCredits int64            `json:"remaining_credits"`
}

type generateRequest struct {
	Prompt      string `json:"prompt"`
	Style       string `json:"style"`
	Transparent bool   `json:"transparent"`
	Count       int    `json:"count"`
}
