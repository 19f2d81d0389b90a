package payment

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// Fields: плоское представление ответа провайдера: имя поля -> строковое значение.
type Fields map[string]string

// Lookup ищет первое непустое значение среди keys без учёта регистра.
// Порядок keys задаёт приоритет.
func (f Fields) Lookup(keys ...string) (string, bool) {
	for _, key := range keys {
		if v, ok := f[key]; ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), true
		}
	}
	for _, key := range keys {
		for k, v := range f {
			if strings.EqualFold(k, key) && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v), true
			}
		}
	}
	return "", false
}

var successValues = map[string]struct{}{
	"success": {}, "succeeded": {}, "paid": {}, "completed": {}, "complete": {},
	"approved": {}, "ok": {}, "00": {}, "0000": {}, "1": {}, "true": {}, "trade_success": {},
}

// IsSuccessValue сообщает, означает ли значение статуса успешную оплату.
func IsSuccessValue(v string) bool {
	_, ok := successValues[strings.ToLower(strings.TrimSpace(v))]
	return ok
}

// StatusKeys: имена полей статуса, встречающиеся у разных провайдеров.
var StatusKeys = []string{
	"status", "OrderStatus", "order_status", "orderStatus", "trade_status", "result", "code", "respCode",
}

var (
	redirectKeys = []string{"threeDSUrl", "redirectUrl", "redirect_url", "payUrl", "url", "3dsUrl", "acsUrl"}
	detailKeys   = []string{"message", "msg", "respMsg", "errorMsg", "error", "description", "code", "respCode"}
)

// DecodeJSONFields разворачивает JSON-объект; вложенные объекты поднимаются на один уровень,
// не перезаписывая ключи верхнего уровня.
func DecodeJSONFields(body []byte) (Fields, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode json response: %w", err)
	}

	fields := make(Fields, len(raw))
	var nested []map[string]any
	for k, v := range raw {
		if obj, ok := v.(map[string]any); ok {
			nested = append(nested, obj)
			continue
		}
		if s, ok := scalarString(v); ok {
			fields[k] = s
		}
	}
	for _, obj := range nested {
		for k, v := range obj {
			if _, exists := fields[k]; exists {
				continue
			}
			if s, ok := scalarString(v); ok {
				fields[k] = s
			}
		}
	}
	return fields, nil
}

func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case bool:
		if t {
			return "true", true
		}
		return "false", true
	default:
		return "", false
	}
}

// parseFlatXML: узкий извлекатель пар тег/значение.
// Каждый листовой элемент становится ключом по своему локальному имени.
// Вложенность и атрибуты не поддерживаются: родительские элементы игнорируются,
// при повторе имени побеждает первое значение.
func parseFlatXML(body []byte) (Fields, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	dec.Strict = false

	type frame struct {
		name     string
		text     strings.Builder
		hasChild bool
	}
	var (
		stack  []*frame
		fields = make(Fields)
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode xml response: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if len(stack) > 0 {
				stack[len(stack)-1].hasChild = true
			}
			stack = append(stack, &frame{name: t.Name.Local})
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text.Write(t)
			}
		case xml.EndElement:
			if len(stack) == 0 {
				continue
			}
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if top.hasChild {
				continue
			}
			if _, exists := fields[top.name]; !exists {
				fields[top.name] = strings.TrimSpace(top.text.String())
			}
		}
	}
	if len(fields) == 0 {
		return nil, errors.New("xml response has no leaf elements")
	}
	return fields, nil
}

var scriptLocationPattern = regexp.MustCompile(`(?:window\.|document\.)?location(?:\.href)?\s*=\s*["']([^"']+)["']`)

// extractEmbeddedRedirect: запасной разбор HTML-ответа шлюза.
// Ищет meta refresh, затем action формы, затем location.href в скриптах,
// затем первую абсолютную ссылку. Это обход особенности интеграции, а не контракт.
func extractEmbeddedRedirect(body []byte) (string, bool) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return "", false
	}

	var metaURL, formURL, scriptURL, anchorURL string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "meta":
				if strings.EqualFold(attr(n, "http-equiv"), "refresh") && metaURL == "" {
					metaURL = refreshTarget(attr(n, "content"))
				}
			case "form":
				if formURL == "" {
					formURL = absoluteURL(attr(n, "action"))
				}
			case "script":
				if scriptURL == "" && n.FirstChild != nil {
					if m := scriptLocationPattern.FindStringSubmatch(n.FirstChild.Data); len(m) == 2 {
						scriptURL = absoluteURL(m[1])
					}
				}
			case "a":
				if anchorURL == "" {
					anchorURL = absoluteURL(attr(n, "href"))
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	for _, candidate := range []string{metaURL, formURL, scriptURL, anchorURL} {
		if candidate != "" {
			return candidate, true
		}
	}
	return "", false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

// refreshTarget разбирает content вида "0; url=https://...".
func refreshTarget(content string) string {
	for _, part := range strings.Split(content, ";") {
		part = strings.TrimSpace(part)
		if len(part) > 4 && strings.EqualFold(part[:4], "url=") {
			return absoluteURL(strings.Trim(part[4:], `'"`))
		}
	}
	return ""
}

func absoluteURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ""
	}
	return u.String()
}

// appendCallbacks добавляет return_url и notify_url в URL challenge,
// не перезаписывая уже присутствующие параметры.
func appendCallbacks(raw, returnURL, notifyURL string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse redirect url: %w", err)
	}
	q := u.Query()
	if !q.Has("return_url") && returnURL != "" {
		q.Set("return_url", returnURL)
	}
	if !q.Has("notify_url") && notifyURL != "" {
		q.Set("notify_url", notifyURL)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
