// Package validation は go-playground/validator を用いた入力検証を提供する。
// 違反したルールは入力型ごとに定義されたメッセージに変換され、フィールド順に返される。
package validation

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// MaxQuantity は数量として受け付ける最大値。itemsテーブルのINTEGER列に収まる範囲。
const MaxQuantity = math.MaxInt32

// Messenger は検証対象の入力型が実装するインターフェース。
// キーは "フィールド名.タグ名" の形式（例: "Name.required"）。
type Messenger interface {
	ValidationMessages() map[string]string
}

// URLChecker はURLの静的な安全性検証を行う。
type URLChecker interface {
	ValidateURL(rawURL string) error
}

// Validator は検証ルールを保持する。生成後は並行利用可能。
type Validator struct {
	validate *validator.Validate
}

// New はカスタムルールを登録したValidatorを生成する。
// urls が nil の場合、safeurl ルールは常に成功する。
func New(urls URLChecker) *Validator {
	v := validator.New()

	mustRegister(v, "nonnegative", nonNegativeNumber)
	mustRegister(v, "wholenumber", nonNegativeInteger)
	mustRegister(v, "safeurl", func(fl validator.FieldLevel) bool {
		if urls == nil {
			return true
		}
		return urls.ValidateURL(fl.Field().String()) == nil
	})

	return &Validator{validate: v}
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("failed to register validation %q: %v", tag, err))
	}
}

// Struct は入力を検証し、違反メッセージを返す。違反がなければnilを返す。
// 同一メッセージは1度だけ含める。
func (v *Validator) Struct(input Messenger) []string {
	err := v.validate.Struct(input)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}

	messages := input.ValidationMessages()
	seen := make(map[string]struct{}, len(verrs))
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg, ok := messages[fe.StructField()+"."+fe.Tag()]
		if !ok {
			msg = fmt.Sprintf("%s is invalid", fe.Field())
		}
		if _, dup := seen[msg]; dup {
			continue
		}
		seen[msg] = struct{}{}
		out = append(out, msg)
	}
	return out
}

// nonNegativeNumber は数値または数値文字列が0以上であることを検証する。
// 真偽値は数値として扱う。
func nonNegativeNumber(fl validator.FieldLevel) bool {
	f, ok := ToFloat(fl.Field().Interface())
	return ok && f >= 0
}

// nonNegativeInteger はJSON数値が0以上 MaxQuantity 以下の整数であることを検証する。文字列は受け付けない。
func nonNegativeInteger(fl validator.FieldLevel) bool {
	f, ok := fl.Field().Interface().(float64)
	if !ok {
		return false
	}
	return !math.IsNaN(f) && !math.IsInf(f, 0) && f == math.Trunc(f) && f >= 0 && f <= MaxQuantity
}

// ToFloat はJSONから復号した値を数値に変換する。変換できない場合はfalseを返す。
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return n, true
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0, true
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}
