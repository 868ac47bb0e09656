package task

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/stageboard/core"
)

var (
	stageTag  = "stage"
	stageText = "{0} must be one of todo, requirements, design, implementation, testing, review, done"
)

// InitValidators registers the task validators; core.InitValidators must run first.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(stageTag, stageValidation)
	core.RegisterCustomTranslation(validate, translator, stageTag, stageText)
}

func stageValidation(fl validator.FieldLevel) bool {
	_, err := ParseStage(fl.Field().String())
	return err == nil
}
