package workflow

import "github.com/go-playground/validator/v10"

// validatorUtil 包内共享的参数校验器,只读,并发安全
var validatorUtil = validator.New()
