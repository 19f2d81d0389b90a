package payment

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/version"
)

const (
	// DefaultGatewayTimeout ограничивает один запрос к шлюзу.
	DefaultGatewayTimeout = 15 * time.Second

	gatewayCurrency  = "USD"
	gatewayTimestamp = "20060102150405"
	maxResponseBytes = 1 << 20
)

// RequestFormat: кодировка тела запроса к шлюзу.
type RequestFormat string

const (
	RequestFormatForm RequestFormat = "form"
	RequestFormatJSON RequestFormat = "json"
)

// ParseRequestFormat возвращает form для пустого и неизвестного значения.
func ParseRequestFormat(raw string) RequestFormat {
	if strings.EqualFold(strings.TrimSpace(raw), string(RequestFormatJSON)) {
		return RequestFormatJSON
	}
	return RequestFormatForm
}

// GatewayConfig: реквизиты прямого карточного шлюза.
type GatewayConfig struct {
	BaseURL       string
	MerchantID    string
	AccountID     string
	Secret        string
	RequestFormat RequestFormat
	Timeout       time.Duration
	FrontendURL   string
	PublicAPIURL  string
}

// Configured сообщает, заданы ли все обязательные реквизиты.
func (c GatewayConfig) Configured() bool {
	return c.BaseURL != "" && c.MerchantID != "" && c.AccountID != "" && c.Secret != ""
}

// NotifyURL: адрес серверного уведомления об оплате.
func (c GatewayConfig) NotifyURL() string {
	return trimSlash(c.PublicAPIURL) + "/payment/webhook"
}

// GatewayOption настраивает DirectGateway.
type GatewayOption func(*DirectGateway)

// WithHTTPClient подменяет http.Client (используется в тестах).
func WithHTTPClient(c *http.Client) GatewayOption {
	return func(g *DirectGateway) {
		if c != nil {
			g.client = c
		}
	}
}

// WithGatewayClock подменяет источник времени для timestamp.
func WithGatewayClock(now func() time.Time) GatewayOption {
	return func(g *DirectGateway) {
		if now != nil {
			g.now = now
		}
	}
}

// DirectGateway авторизует карту напрямую через API шлюза и, если банк
// требует 3-D Secure, возвращает URL challenge.
type DirectGateway struct {
	cfg    GatewayConfig
	client *http.Client
	now    func() time.Time
}

// NewDirectGateway создаёт клиент шлюза.
func NewDirectGateway(cfg GatewayConfig, opts ...GatewayOption) *DirectGateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultGatewayTimeout
	}
	if cfg.RequestFormat == "" {
		cfg.RequestFormat = RequestFormatForm
	}
	g := &DirectGateway{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Initiate отправляет авторизацию и разбирает ответ шлюза.
func (g *DirectGateway) Initiate(ctx context.Context, req Request) (Result, error) {
	if req.Card == nil {
		return Result{}, fmt.Errorf("%w: card details are required", domain.ErrInvalidInput)
	}

	payload := g.buildPayload(req)
	body, contentType, err := encodePayload(payload, g.cfg.RequestFormat)
	if err != nil {
		return Result{}, g.providerErr(0, "", "", err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return Result{}, g.providerErr(0, "", "", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json, application/xml;q=0.9, text/html;q=0.8")
	httpReq.Header.Set("User-Agent", version.UserAgent())

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return Result{}, g.providerErr(0, "gateway unreachable", "", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Result{}, g.providerErr(resp.StatusCode, "", "", fmt.Errorf("read gateway response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, g.providerErr(resp.StatusCode, http.StatusText(resp.StatusCode), string(raw), nil)
	}

	return g.interpret(req.Order.ID, resp.Header.Get("Content-Type"), raw)
}

func (g *DirectGateway) interpret(orderID, contentType string, raw []byte) (Result, error) {
	returnURL := ConfirmationURL(g.cfg.FrontendURL, orderID)

	mediaType, _, _ := mime.ParseMediaType(contentType)
	var (
		fields Fields
		err    error
	)
	switch {
	case strings.HasSuffix(mediaType, "json"):
		fields, err = DecodeJSONFields(raw)
	case strings.HasSuffix(mediaType, "xml"):
		fields, err = parseFlatXML(raw)
	case mediaType == "text/html":
		if target, ok := extractEmbeddedRedirect(raw); ok {
			return g.redirect(target, returnURL, string(raw))
		}
		return Result{}, g.providerErr(0, "unrecognised html response", string(raw), nil)
	default:
		// Шлюз иногда отвечает JSON без Content-Type.
		fields, err = DecodeJSONFields(raw)
	}
	if err != nil {
		return Result{}, g.providerErr(0, "unparseable response", string(raw), err)
	}

	if target, ok := fields.Lookup(redirectKeys...); ok {
		return g.redirect(target, returnURL, string(raw))
	}
	if status, ok := fields.Lookup(StatusKeys...); ok && IsSuccessValue(status) {
		return Result{RedirectURL: returnURL, ExternalRef: externalRef(fields)}, nil
	}

	detail, _ := fields.Lookup(detailKeys...)
	if detail == "" {
		detail = "no redirect url in response"
	}
	return Result{}, g.providerErr(0, detail, string(raw), nil)
}

func (g *DirectGateway) redirect(target, returnURL, raw string) (Result, error) {
	withCallbacks, err := appendCallbacks(target, returnURL, g.cfg.NotifyURL())
	if err != nil {
		return Result{}, g.providerErr(0, "malformed redirect url", raw, err)
	}
	return Result{RedirectURL: withCallbacks}, nil
}

func externalRef(fields Fields) string {
	ref, _ := fields.Lookup("tradeNo", "transactionId", "transaction_id", "paymentId")
	return ref
}

func (g *DirectGateway) providerErr(status int, detail, raw string, err error) *ProviderError {
	return &ProviderError{
		Provider:   string(domain.PaymentProviderDirect),
		StatusCode: status,
		Detail:     detail,
		Raw:        raw,
		Err:        err,
	}
}

// gatewayPayload: тело авторизации. Порядок полей совпадает с документацией шлюза.
type gatewayPayload struct {
	MerchantID     string        `json:"merchantId"`
	AccountID      string        `json:"accountId"`
	OrderNo        string        `json:"orderNo"`
	Currency       string        `json:"currency"`
	Amount         string        `json:"amount"`
	Goods          []gatewayGood `json:"goods"`
	CardNo         string        `json:"cardNo"`
	ExpYear        string        `json:"cardExpireYear"`
	ExpMonth       string        `json:"cardExpireMonth"`
	CVV            string        `json:"cardSecurityCode"`
	FirstName      string        `json:"firstName"`
	LastName       string        `json:"lastName"`
	Email          string        `json:"email"`
	Country        string        `json:"country"`
	City           string        `json:"city"`
	Address        string        `json:"address"`
	Zip            string        `json:"zip"`
	Phone          string        `json:"phone"`
	ShipFirstName  string        `json:"shipFirstName"`
	ShipLastName   string        `json:"shipLastName"`
	ShipCountry    string        `json:"shipCountry"`
	ShipCity       string        `json:"shipCity"`
	ShipAddress    string        `json:"shipAddress"`
	ShipZip        string        `json:"shipZip"`
	ShipPhone      string        `json:"shipPhone"`
	UserAgent      string        `json:"userAgent"`
	IP             string        `json:"ip"`
	AcceptLanguage string        `json:"acceptLanguage"`
	ReturnURL      string        `json:"returnUrl"`
	NotifyURL      string        `json:"notifyUrl"`
	Timestamp      string        `json:"timestamp"`
	Signature      string        `json:"signInfo"`
}

type gatewayGood struct {
	Name     string `json:"goodsName"`
	Price    string `json:"goodsPrice"`
	Quantity int    `json:"quantity"`
}

func (g *DirectGateway) buildPayload(req Request) gatewayPayload {
	billing := fillBilling(req.Billing, req.CustomerEmail)

	p := gatewayPayload{
		MerchantID:     g.cfg.MerchantID,
		AccountID:      g.cfg.AccountID,
		OrderNo:        req.Order.ID,
		Currency:       gatewayCurrency,
		Amount:         req.Order.Total.StringFixed(2),
		Goods:          make([]gatewayGood, 0, len(req.Order.Items)),
		CardNo:         digitsOnly(req.Card.Number),
		ExpYear:        strings.TrimSpace(req.Card.ExpYear),
		ExpMonth:       strings.TrimSpace(req.Card.ExpMonth),
		CVV:            strings.TrimSpace(req.Card.CVV),
		FirstName:      billing.FirstName,
		LastName:       billing.LastName,
		Email:          strings.TrimSpace(req.CustomerEmail),
		Country:        billing.Country,
		City:           billing.City,
		Address:        billing.Address,
		Zip:            billing.Zip,
		Phone:          billing.Phone,
		ShipFirstName:  billing.FirstName,
		ShipLastName:   billing.LastName,
		ShipCountry:    billing.Country,
		ShipCity:       billing.City,
		ShipAddress:    billing.Address,
		ShipZip:        billing.Zip,
		ShipPhone:      billing.Phone,
		UserAgent:      req.Device.UserAgent,
		IP:             req.Device.IP,
		AcceptLanguage: req.Device.AcceptLanguage,
		ReturnURL:      ConfirmationURL(g.cfg.FrontendURL, req.Order.ID),
		NotifyURL:      g.cfg.NotifyURL(),
		Timestamp:      g.now().UTC().Format(gatewayTimestamp),
	}
	for _, item := range req.Order.Items {
		name := item.Name
		if name == "" {
			name = item.ProductID
		}
		p.Goods = append(p.Goods, gatewayGood{
			Name:     name,
			Price:    item.Price.StringFixed(2),
			Quantity: domain.NormalizeQuantity(item.Quantity),
		})
	}
	p.Signature = sign(p, g.cfg.Secret)
	return p
}

// sign считает SHA-256 (lowercase hex) от конкатенации полей в порядке шлюза.
func sign(p gatewayPayload, secret string) string {
	var b strings.Builder
	for _, part := range []string{
		p.MerchantID, p.AccountID, p.OrderNo, p.Currency, p.Amount,
		p.FirstName, p.LastName, p.CardNo, p.ExpYear, p.ExpMonth, p.CVV,
		p.Email, secret,
	} {
		b.WriteString(part)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// NotificationSignature: подпись серверного уведомления шлюза,
// SHA-256 (lowercase hex) от номера заказа, статуса и секрета.
func NotificationSignature(orderNo, status, secret string) string {
	sum := sha256.Sum256([]byte(orderNo + status + secret))
	return hex.EncodeToString(sum[:])
}

// fillBilling подставляет заглушки вместо пустых платёжных полей.
func fillBilling(b *Billing, email string) Billing {
	out := Billing{}
	if b != nil {
		out = *b
	}
	if strings.TrimSpace(out.FirstName) == "" {
		local, _, _ := strings.Cut(email, "@")
		if local == "" {
			local = "Customer"
		}
		out.FirstName = local
	}
	defaults := []struct {
		field *string
		value string
	}{
		{&out.LastName, "Customer"},
		{&out.Country, "US"},
		{&out.City, "New York"},
		{&out.Address, "N/A"},
		{&out.Zip, "10001"},
		{&out.Phone, "0000000000"},
	}
	for _, d := range defaults {
		if strings.TrimSpace(*d.field) == "" {
			*d.field = d.value
		}
	}
	return out
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func encodePayload(p gatewayPayload, format RequestFormat) ([]byte, string, error) {
	if format == RequestFormatJSON {
		body, err := json.Marshal(p)
		if err != nil {
			return nil, "", fmt.Errorf("encode gateway payload: %w", err)
		}
		return body, "application/json", nil
	}

	goods, err := json.Marshal(p.Goods)
	if err != nil {
		return nil, "", fmt.Errorf("encode gateway goods: %w", err)
	}
	form := url.Values{}
	form.Set("merchantId", p.MerchantID)
	form.Set("accountId", p.AccountID)
	form.Set("orderNo", p.OrderNo)
	form.Set("currency", p.Currency)
	form.Set("amount", p.Amount)
	form.Set("goods", string(goods))
	form.Set("cardNo", p.CardNo)
	form.Set("cardExpireYear", p.ExpYear)
	form.Set("cardExpireMonth", p.ExpMonth)
	form.Set("cardSecurityCode", p.CVV)
	form.Set("firstName", p.FirstName)
	form.Set("lastName", p.LastName)
	form.Set("email", p.Email)
	form.Set("country", p.Country)
	form.Set("city", p.City)
	form.Set("address", p.Address)
	form.Set("zip", p.Zip)
	form.Set("phone", p.Phone)
	form.Set("shipFirstName", p.ShipFirstName)
	form.Set("shipLastName", p.ShipLastName)
	form.Set("shipCountry", p.ShipCountry)
	form.Set("shipCity", p.ShipCity)
	form.Set("shipAddress", p.ShipAddress)
	form.Set("shipZip", p.ShipZip)
	form.Set("shipPhone", p.ShipPhone)
	form.Set("userAgent", p.UserAgent)
	form.Set("ip", p.IP)
	form.Set("acceptLanguage", p.AcceptLanguage)
	form.Set("returnUrl", p.ReturnURL)
	form.Set("notifyUrl", p.NotifyURL)
	form.Set("timestamp", p.Timestamp)
	form.Set("signInfo", p.Signature)
	form.Set("goodsCount", strconv.Itoa(len(p.Goods)))
	return []byte(form.Encode()), "application/x-www-form-urlencoded", nil
}

// IsTimeout сообщает, что шлюз не ответил вовремя.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}
