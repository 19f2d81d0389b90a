package httpapi

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/payment"
)

// flexString принимает и строку, и число ("05" и 5 для месяца карты).
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type cartItemRequest struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Price         decimal.Decimal `json:"price"`
	Quantity      int             `json:"quantity"`
	SelectedSize  string          `json:"selectedSize"`
	SelectedColor string          `json:"selectedColor"`
}

type cartRequest struct {
	Items []cartItemRequest   `json:"items"`
	Total decimal.NullDecimal `json:"total"`
}

// orderItems переводит позиции корзины в позиции заказа; цена берётся из запроса.
func (c cartRequest) orderItems() []domain.OrderItem {
	items := make([]domain.OrderItem, 0, len(c.Items))
	for _, it := range c.Items {
		items = append(items, domain.OrderItem{
			ProductID: it.ID,
			Name:      it.Name,
			Price:     it.Price,
			Quantity:  domain.NormalizeQuantity(it.Quantity),
			Size:      it.SelectedSize,
			Color:     it.SelectedColor,
		})
	}
	return items
}

// total возвращает переданную сумму или сумму позиций, если её нет.
func (c cartRequest) total(items []domain.OrderItem) decimal.Decimal {
	if c.Total.Valid {
		return c.Total.Decimal
	}
	sum := decimal.Zero
	for _, item := range items {
		sum = sum.Add(item.LineTotal())
	}
	return sum
}

type createOrderRequest struct {
	cartRequest
	Email  string `json:"email"`
	Status string `json:"status"`
}

type cardRequest struct {
	No       string     `json:"no"`
	ExpMonth flexString `json:"expMonth"`
	ExpYear  flexString `json:"expYear"`
	CVV      string     `json:"cvv"`
}

type billingRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Country   string `json:"country"`
	City      string `json:"city"`
	Address   string `json:"address"`
	Zip       string `json:"zip"`
	Phone     string `json:"phone"`
}

type directPaymentRequest struct {
	cartRequest
	Card    cardRequest     `json:"card"`
	Billing *billingRequest `json:"billing"`
}

func (d directPaymentRequest) card() payment.CardDetails {
	return payment.CardDetails{
		Number:   strings.TrimSpace(d.Card.No),
		ExpMonth: strings.TrimSpace(string(d.Card.ExpMonth)),
		ExpYear:  strings.TrimSpace(string(d.Card.ExpYear)),
		CVV:      strings.TrimSpace(d.Card.CVV),
	}
}

func (d directPaymentRequest) billing() *payment.Billing {
	if d.Billing == nil {
		return nil
	}
	b := payment.Billing(*d.Billing)
	return &b
}

type sessionResponse struct {
	URL      string `json:"url,omitempty"`
	Simulate bool   `json:"simulate,omitempty"`
	OrderID  string `json:"orderId"`
}

type idResponse struct {
	ID     string `json:"id"`
	Status string `json:"status,omitempty"`
}

type orderItemResponse struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	Size      string          `json:"size,omitempty"`
	Color     string          `json:"color,omitempty"`
}

type orderResponse struct {
	ID        string              `json:"id"`
	Total     decimal.Decimal     `json:"total"`
	Status    string              `json:"status"`
	CreatedAt time.Time           `json:"created_at"`
	Items     []orderItemResponse `json:"items"`
}

func toOrderResponse(o domain.Order) orderResponse {
	items := make([]orderItemResponse, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, orderItemResponse{
			ProductID: it.ProductID,
			Name:      it.Name,
			Price:     it.Price,
			Quantity:  it.Quantity,
			Size:      it.Size,
			Color:     it.Color,
		})
	}
	return orderResponse{
		ID:        o.ID,
		Total:     o.Total,
		Status:    string(o.Status),
		CreatedAt: o.CreatedAt,
		Items:     items,
	}
}

type productDTO struct {
	ID            string              `json:"id"`
	Name          string              `json:"name"`
	Category      string              `json:"category"`
	Price         decimal.Decimal     `json:"price"`
	OriginalPrice decimal.NullDecimal `json:"originalPrice"`
	Image         string              `json:"image"`
	Images        []string            `json:"images,omitempty"`
	Description   string              `json:"description"`
	Colors        []string            `json:"colors,omitempty"`
	Sizes         []string            `json:"sizes,omitempty"`
	Rating        float64             `json:"rating"`
	Reviews       int                 `json:"reviews"`
	IsNew         bool                `json:"isNew"`
	IsSale        bool                `json:"isSale"`
	IsLimited     bool                `json:"isLimited"`
	Hidden        bool                `json:"hidden"`
	Stock         int                 `json:"stock"`
}

func toProductDTO(p domain.Product) productDTO {
	return productDTO{
		ID:            p.ID,
		Name:          p.Name,
		Category:      p.Category,
		Price:         p.Price,
		OriginalPrice: p.OriginalPrice,
		Image:         p.Image,
		Images:        p.Images,
		Description:   p.Description,
		Colors:        p.Colors,
		Sizes:         p.Sizes,
		Rating:        p.Rating,
		Reviews:       p.Reviews,
		IsNew:         p.IsNew,
		IsSale:        p.IsSale,
		IsLimited:     p.IsLimited,
		Hidden:        p.Hidden,
		Stock:         p.Stock,
	}
}

func (p productDTO) toDomain() domain.Product {
	return domain.Product{
		ID:            p.ID,
		Name:          p.Name,
		Category:      p.Category,
		Price:         p.Price,
		OriginalPrice: p.OriginalPrice,
		Image:         p.Image,
		Images:        p.Images,
		Description:   p.Description,
		Colors:        p.Colors,
		Sizes:         p.Sizes,
		Rating:        p.Rating,
		Reviews:       p.Reviews,
		IsNew:         p.IsNew,
		IsSale:        p.IsSale,
		IsLimited:     p.IsLimited,
		Hidden:        p.Hidden,
		Stock:         p.Stock,
	}
}

type seedRequest struct {
	Products []productDTO `json:"products"`
}

type profileResponse struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type supportMessageRequest struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

type supportMessageResponse struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

func toSupportMessageResponse(m domain.SupportMessage) supportMessageResponse {
	return supportMessageResponse{ID: m.ID, Role: string(m.Role), Text: m.Text, CreatedAt: m.CreatedAt}
}

type supportReplyRequest struct {
	Messages []supportMessageRequest `json:"messages"`
}

type supportReplyResponse struct {
	Reply   string                 `json:"reply"`
	Message supportMessageResponse `json:"message"`
}

// displayName: локальная часть email или "Member".
func displayName(email string) string {
	local, _, _ := strings.Cut(strings.TrimSpace(email), "@")
	if local == "" {
		return "Member"
	}
	return local
}
