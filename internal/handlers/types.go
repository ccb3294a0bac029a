// Package handlers provides HTTP handlers for the Clawcierge API.
// This file defines common response types shared across handler files.
package handlers

// SuccessResponse represents a success response
type SuccessResponse struct {
	Message string `json:"message"`
}
