package render

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"pitchreel/internal/pkg/errors"
)

// Request is the body of a render submission as the client sends it.
// Required primitives are pointers so that absence and zero can be told apart.
type Request struct {
	Composition    string             `json:"composition,omitempty" validate:"omitempty,composition"`
	Animations     []AnimationRequest `json:"animations" validate:"required,min=1,dive"`
	GradientOption string             `json:"gradientOption,omitempty" validate:"omitempty,oneof=option-1 option-2"`
	Option1Colors  []string           `json:"option1Colors" validate:"required,min=2,max=3"`
	Option2Colors  []string           `json:"option2Colors" validate:"required,min=2,max=3"`
	AudioURL       string             `json:"audioUrl,omitempty"`
}

// AnimationRequest is one scene of a submission.
type AnimationRequest struct {
	TitleText       *string  `json:"titleText" validate:"required"`
	TitleColor      *string  `json:"titleColor" validate:"required"`
	BackgroundColor *string  `json:"backgroundColor" validate:"required"`
	Rating          *float64 `json:"rating" validate:"required"`
	Logo            string   `json:"logo,omitempty"`
	AnimationStyle  string   `json:"animationStyle,omitempty" validate:"omitempty,oneof=scale fadeIn slideIn changingWord"`
	Duration        *float64 `json:"duration" validate:"required,gt=0"`
}

// Spec is a validated submission with defaults applied. It is passed to the
// engine unchanged and never mutated after the job is created.
type Spec struct {
	Composition string `json:"composition"`
	Props       Props  `json:"props"`
}

// Props is the property bag handed to the composition.
type Props struct {
	Animations     []Animation `json:"animations"`
	GradientOption string      `json:"gradientOption"`
	Option1Colors  []string    `json:"option1Colors"`
	Option2Colors  []string    `json:"option2Colors"`
	AudioURL       string      `json:"audioUrl,omitempty"`
}

type Animation struct {
	TitleText       string  `json:"titleText"`
	TitleColor      string  `json:"titleColor"`
	BackgroundColor string  `json:"backgroundColor"`
	Rating          float64 `json:"rating"`
	Logo            string  `json:"logo,omitempty"`
	AnimationStyle  string  `json:"animationStyle"`
	Duration        float64 `json:"duration"`
}

const (
	defaultAnimationStyle = "scale"
	defaultGradient       = "option-1"
)

var arrayMessages = map[string]string{
	"animations":    "animations must be a non-empty array",
	"option1Colors": "option1Colors must be an array of 2-3 color strings",
	"option2Colors": "option2Colors must be an array of 2-3 color strings",
}

// Validator checks submissions against the shape rules and the set of
// compositions this deployment can render.
type Validator struct {
	validate     *validator.Validate
	compositions []string
}

// NewValidator builds a Validator. The first composition is the default for
// submissions that omit one.
func NewValidator(compositions []string) *Validator {
	allowed := make(map[string]bool, len(compositions))
	for _, c := range compositions {
		allowed[c] = true
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("composition", func(fl validator.FieldLevel) bool {
		return allowed[fl.Field().String()]
	})

	return &Validator{validate: v, compositions: compositions}
}

// Normalize validates req and returns the spec with defaults filled in. The
// error names the first failing field as a path such as animations[0].titleText.
func (v *Validator) Normalize(req Request) (Spec, error) {
	if err := v.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return Spec{}, errors.ValidationField(fieldPath(fe), v.describe(fe))
		}
		return Spec{}, errors.Validation(err.Error())
	}

	spec := Spec{
		Composition: req.Composition,
		Props: Props{
			Animations:     make([]Animation, 0, len(req.Animations)),
			GradientOption: req.GradientOption,
			Option1Colors:  append([]string(nil), req.Option1Colors...),
			Option2Colors:  append([]string(nil), req.Option2Colors...),
			AudioURL:       req.AudioURL,
		},
	}
	if spec.Composition == "" && len(v.compositions) > 0 {
		spec.Composition = v.compositions[0]
	}
	if spec.Props.GradientOption == "" {
		spec.Props.GradientOption = defaultGradient
	}
	for _, a := range req.Animations {
		anim := Animation{
			TitleText:       *a.TitleText,
			TitleColor:      *a.TitleColor,
			BackgroundColor: *a.BackgroundColor,
			Rating:          *a.Rating,
			Logo:            a.Logo,
			AnimationStyle:  a.AnimationStyle,
			Duration:        *a.Duration,
		}
		if anim.AnimationStyle == "" {
			anim.AnimationStyle = defaultAnimationStyle
		}
		spec.Props.Animations = append(spec.Props.Animations, anim)
	}
	return spec, nil
}

// fieldPath drops the root struct name from the namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func (v *Validator) describe(fe validator.FieldError) string {
	name := fe.Field()
	switch fe.Tag() {
	case "required", "min", "max":
		if msg, ok := arrayMessages[name]; ok {
			return msg
		}
		return name + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", name, strings.Join(strings.Fields(fe.Param()), ", "))
	case "gt":
		return name + " must be a positive number"
	case "composition":
		return "composition must be one of: " + strings.Join(v.compositions, ", ")
	default:
		return name + " is invalid"
	}
}
