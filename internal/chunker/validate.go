package chunker

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/hyperjump/kioku/internal/models"
)

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("section_type", func(fl validator.FieldLevel) bool {
		return models.SectionType(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("background", func(fl validator.FieldLevel) bool {
		return models.Background(fl.Field().String()).Valid()
	})
	return v
}

// Validate checks that the tree is well formed. It returns a *models.ValidationError
// naming the first offending field.
func (c *Chunker) Validate(tree *models.DeckTree) error {
	if tree == nil {
		return &models.ValidationError{Reason: "tree is nil"}
	}
	if err := c.validate.Struct(tree); err != nil {
		return toValidationError(err)
	}
	for i := range tree.Sections {
		if err := checkSection(&tree.Sections[i], fmt.Sprintf("slides[%d]", i)); err != nil {
			return err
		}
	}
	return nil
}

func (c *Chunker) validateSection(s *models.Section) error {
	if s == nil {
		return &models.ValidationError{Reason: "section is nil"}
	}
	if err := c.validate.Struct(s); err != nil {
		return toValidationError(err)
	}
	return checkSection(s, "section")
}

// checkSection covers constraints the struct tags cannot express.
func checkSection(s *models.Section, path string) error {
	if s.Compare != nil {
		for r, row := range s.Compare.Rows {
			if len(row) != len(s.Compare.Headers) {
				return &models.ValidationError{
					Field:  fmt.Sprintf("%s.compare.rows[%d]", path, r),
					Reason: fmt.Sprintf("row has %d cells, header has %d", len(row), len(s.Compare.Headers)),
				}
			}
		}
	}
	return nil
}

func toValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &models.ValidationError{Reason: err.Error()}
	}
	fe := verrs[0]
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	reason := fe.Tag()
	if fe.Param() != "" {
		reason += "=" + fe.Param()
	}
	if fe.Tag() == "section_type" || fe.Tag() == "background" {
		reason = fmt.Sprintf("unknown %s %q", fe.Tag(), fe.Value())
	}
	return &models.ValidationError{Field: field, Reason: reason}
}
