package handler

import (
	"fmt"
	"strconv"
	"strings"

	"expedition-bot/internal/model"
	"expedition-bot/internal/pkg/apperr"
	"expedition-bot/internal/transfer"
)

// noneWords answer "no resources" in the creation form.
var noneWords = map[string]bool{"-": true, "aucun": true, "aucune": true, "rien": true, "non": true}

// ParseQuantities parses "type=qty" pairs. Types are catalog names (case
// insensitive) or ids. Pairs are separated by commas or new lines. Without
// either, each pair ends after the quantity that follows its "=", so names
// may hold spaces: "Bois brut=3 Vivres=2".
func ParseQuantities(text string, catalog []model.ResourceType) ([]transfer.Leg, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperr.Validation("quantités", "type=quantité", "no quantities given")
	}

	var tokens []string
	if strings.ContainsAny(text, ",\n;") {
		tokens = strings.FieldsFunc(text, func(r rune) bool { return r == ',' || r == '\n' || r == ';' })
	} else {
		tokens = splitPairs(text)
	}

	legs := make([]transfer.Leg, 0, len(tokens))
	seen := make(map[int]bool, len(tokens))
	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		name, qtyText, ok := strings.Cut(tok, "=")
		name, qtyText = strings.TrimSpace(name), strings.TrimSpace(qtyText)
		if !ok || name == "" {
			return nil, apperr.Validation(tok, "type=quantité", "expected type=quantity")
		}

		rt, ok := lookupResource(name, catalog)
		if !ok {
			return nil, apperr.Validation(name, catalogNames(catalog), "unknown resource type")
		}
		qty, err := strconv.Atoi(qtyText)
		if err != nil || qty <= 0 {
			return nil, apperr.Validation(rt.Name, "entier >= 1", fmt.Sprintf("invalid quantity %q", qtyText))
		}
		if seen[rt.ID] {
			return nil, apperr.Validation(rt.Name, "une fois", "resource listed twice")
		}
		seen[rt.ID] = true
		legs = append(legs, transfer.Leg{ResourceTypeID: rt.ID, Name: rt.Name, Quantity: qty})
	}
	if len(legs) == 0 {
		return nil, apperr.Validation("quantités", "type=quantité", "no quantities given")
	}
	return legs, nil
}

// splitPairs cuts space separated text into "name=qty" tokens. Words before an
// "=" belong to the name and the first word after it is the quantity.
func splitPairs(text string) []string {
	var (
		out  []string
		name []string
	)
	words := strings.Fields(text)
	for i := 0; i < len(words); i++ {
		left, right, ok := strings.Cut(words[i], "=")
		if !ok {
			name = append(name, words[i])
			continue
		}
		if left != "" {
			name = append(name, left)
		}
		if right == "" && i+1 < len(words) && !strings.Contains(words[i+1], "=") {
			i++
			right = words[i]
		}
		out = append(out, strings.Join(name, " ")+"="+right)
		name = name[:0]
	}
	if len(name) > 0 {
		out = append(out, strings.Join(name, " "))
	}
	return out
}

func lookupResource(name string, catalog []model.ResourceType) (model.ResourceType, bool) {
	if id, err := strconv.Atoi(name); err == nil {
		for _, rt := range catalog {
			if rt.ID == id {
				return rt, true
			}
		}
		return model.ResourceType{}, false
	}
	for _, rt := range catalog {
		if strings.EqualFold(rt.Name, name) {
			return rt, true
		}
	}
	return model.ResourceType{}, false
}

func catalogNames(catalog []model.ResourceType) string {
	names := make([]string, 0, len(catalog))
	for _, rt := range catalog {
		names = append(names, rt.Name)
	}
	return strings.Join(names, ", ")
}

// ParseDuration parses a number of days.
func ParseDuration(text string) (int, error) {
	days, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || days < 1 {
		return 0, apperr.Validation("durée", "entier >= 1", fmt.Sprintf("invalid duration %q", text))
	}
	return days, nil
}

// ParseCreateArgs splits "/exp_create <nom> <jours> [type=qty...]". The name
// may span several words: it ends at the first bare integer.
func ParseCreateArgs(args []string) (CreateAction, error) {
	for i, a := range args {
		if i == 0 {
			continue
		}
		days, err := strconv.Atoi(a)
		if err != nil {
			continue
		}
		if days < 1 {
			return CreateAction{}, apperr.Validation("durée", "entier >= 1", fmt.Sprintf("invalid duration %q", a))
		}
		return CreateAction{
			Name:         strings.Join(args[:i], " "),
			DurationDays: days,
			Resources:    strings.Join(args[i+1:], " "),
		}, nil
	}
	return CreateAction{}, apperr.Validation("durée", "entier >= 1", "missing duration")
}

// IsNone reports whether text declines the optional resources step.
func IsNone(text string) bool {
	return noneWords[strings.ToLower(strings.TrimSpace(text))]
}
