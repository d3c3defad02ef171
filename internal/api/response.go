package api

import (
	"github.com/gofiber/fiber/v2"
)

// ApiResponseMeta carries list totals
type ApiResponseMeta struct {
	Total int `json:"total"`
}

// ApiError is the error body of a failed request
type ApiError struct {
	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// ApiResponse wraps every admin API reply
type ApiResponse struct {
	Success bool             `json:"success"`
	Data    any              `json:"data,omitempty"`
	Error   *ApiError        `json:"error,omitempty"`
	Meta    *ApiResponseMeta `json:"meta,omitempty"`
}

// SuccessResp replies 200 with data and optional list metadata
func SuccessResp(c *fiber.Ctx, data any, meta ...ApiResponseMeta) error {
	resp := ApiResponse{Success: true, Data: data}
	if len(meta) > 0 {
		resp.Meta = &meta[0]
	}
	return c.Status(fiber.StatusOK).JSON(&resp)
}

// ErrorCodeResp replies with code and a message, "API Error" when none is given
func ErrorCodeResp(c *fiber.Ctx, code int, message ...string) error {
	msg := "API Error"
	if len(message) > 0 {
		msg = message[0]
	}
	return c.Status(code).JSON(&ApiResponse{
		Error: &ApiError{Code: code, Message: msg},
	})
}

func ErrorNotFoundResp(c *fiber.Ctx, message ...string) error {
	return ErrorCodeResp(c, fiber.StatusNotFound, message...)
}

func ErrorBadRequestResp(c *fiber.Ctx, message ...string) error {
	return ErrorCodeResp(c, fiber.StatusBadRequest, message...)
}

// ErrorUnavailableResp reports a feature switched off in the config
func ErrorUnavailableResp(c *fiber.Ctx, message ...string) error {
	return ErrorCodeResp(c, fiber.StatusServiceUnavailable, message...)
}

func ErrorInternalServerErrorResp(c *fiber.Ctx, message ...string) error {
	return ErrorCodeResp(c, fiber.StatusInternalServerError, message...)
}
