package api

import (
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"openhouse/config"
	"openhouse/db"
	"openhouse/models"
	"openhouse/utils"
)

// --- Shared Shapes ---

// ProfileResponse is the public view of a profile; the password hash stored
// on the model never leaves the server.
type ProfileResponse struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Email            string    `json:"email"`
	Phone            string    `json:"phone,omitempty"`
	Avatar           string    `json:"avatar,omitempty"`
	Role             string    `json:"role"`
	CreationDate     time.Time `json:"creation_date"`
	LastModifiedDate time.Time `json:"last_modified_date"`
}

func toProfileResponse(profile models.Profile) ProfileResponse {
	return ProfileResponse{
		ID:               profile.ID,
		Name:             profile.Name,
		Email:            profile.Email,
		Phone:            profile.Phone,
		Avatar:           profile.Avatar,
		Role:             profile.Role,
		CreationDate:     profile.CreationDate,
		LastModifiedDate: profile.LastModifiedDate,
	}
}

// AuthResponse carries a fresh token plus the profile it belongs to.
type AuthResponse struct {
	Token   string          `json:"token"`
	Profile ProfileResponse `json:"profile"`
}

// --- Signup ---

// SignupRequest defines the expected body for registration.
type SignupRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	Phone    string `json:"phone"`
}

// SignupHandler handles new account registration.
// @Summary      Register a New Account
// @Description  Creates a user account and immediately returns an access token, so no separate login call is needed after registering.
// @Description  Passwords must be at least 6 characters and are stored only as bcrypt hashes. New accounts always get the "user" role.
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        signup body SignupRequest true "Name, email and password for the new account."
// @Success      201  {object}  AuthResponse "Account created. The response contains the access token and the new profile."
// @Failure      400  {object}  utils.APIError "Bad Request: missing fields, malformed email, or password too short."
// @Failure      409  {object}  utils.APIError "Conflict: an account with this email already exists."
// @Failure      500  {object}  utils.APIError "Internal Server Error."
// @Router       /auth/signup [post]
func SignupHandler(c *gin.Context, database *db.Database, cfg *config.Config) {
	var req SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.GinBadRequest(c, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	email := strings.TrimSpace(strings.ToLower(req.Email))
	if !strings.Contains(email, "@") || strings.ContainsAny(email, " \t") {
		utils.GinBadRequest(c, "A valid email address is required.")
		return
	}
	if len(req.Password) < 6 {
		utils.GinBadRequest(c, "Password must be at least 6 characters long.")
		return
	}

	hash, err := utils.HashPassword(req.Password, cfg.BcryptCost)
	if err != nil {
		utils.GinInternalServerError(c, "Failed to process password.")
		return
	}

	profile, err := database.CreateProfile(models.Profile{
		Name:         strings.TrimSpace(req.Name),
		Email:        email,
		Phone:        strings.TrimSpace(req.Phone),
		PasswordHash: hash,
	})
	if err != nil {
		if strings.Contains(err.Error(), "already exists") {
			utils.GinConflict(c, fmt.Sprintf("An account with email '%s' already exists.", email))
		} else {
			utils.GinInternalServerError(c, fmt.Sprintf("Failed to create account: %v", err))
		}
		return
	}

	token, err := utils.GenerateJWT(&profile, cfg)
	if err != nil {
		utils.GinInternalServerError(c, "Account created but token generation failed. Please log in.")
		return
	}

	log.Printf("INFO: New account registered: %s", profile.Email)
	c.JSON(http.StatusCreated, AuthResponse{Token: token, Profile: toProfileResponse(profile)})
}

// --- Login ---

// LoginRequest defines the expected body for logging in.
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginHandler handles credential verification and token issuance.
// @Summary      Log In
// @Description  Verifies an email/password pair and returns a bearer token for subsequent requests. Wrong email and wrong password are deliberately indistinguishable in the response.
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        login body LoginRequest true "The account credentials."
// @Success      200  {object}  AuthResponse "Logged in. The response contains the access token and the profile."
// @Failure      400  {object}  utils.APIError "Bad Request: missing email or password."
// @Failure      401  {object}  utils.APIError "Unauthorized: the credentials do not match any account."
// @Failure      500  {object}  utils.APIError "Internal Server Error."
// @Router       /auth/login [post]
func LoginHandler(c *gin.Context, database *db.Database, cfg *config.Config) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.GinBadRequest(c, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	profile, found := database.GetProfileByEmail(strings.TrimSpace(req.Email))
	if !found || !utils.CheckPasswordHash(req.Password, profile.PasswordHash) {
		// Same response for unknown email and wrong password.
		utils.GinUnauthorized(c, "Invalid email or password.")
		return
	}

	token, err := utils.GenerateJWT(&profile, cfg)
	if err != nil {
		utils.GinInternalServerError(c, "Failed to generate token.")
		return
	}

	log.Printf("INFO: Login: %s", profile.Email)
	c.JSON(http.StatusOK, AuthResponse{Token: token, Profile: toProfileResponse(profile)})
}

// --- Current Profile ---

// MeHandler returns the authenticated caller's profile.
// @Summary      Get Your Own Profile
// @Description  Retrieves the profile of the currently authenticated user, identified by the access token.
// @Tags         Auth
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  ProfileResponse "The caller's profile."
// @Failure      401  {object}  utils.APIError "Unauthorized: missing or invalid access token."
// @Failure      404  {object}  utils.APIError "Not Found: the account behind this token no longer exists."
// @Router       /auth/me [get]
func MeHandler(c *gin.Context, database *db.Database, cfg *config.Config) {
	userID := c.GetString("userID")
	if userID == "" {
		utils.GinInternalServerError(c, "User ID not found in context.")
		return
	}

	profile, found := database.GetProfileByID(userID)
	if !found {
		utils.GinNotFound(c, "Authenticated user profile not found.")
		return
	}

	c.JSON(http.StatusOK, toProfileResponse(profile))
}

// --- Update Current Profile ---

// UpdateMeRequest defines the profile fields a user may change. Email,
// password and role are deliberately not among them.
type UpdateMeRequest struct {
	Name   string `json:"name" binding:"required"`
	Phone  string `json:"phone"`
	Avatar string `json:"avatar"`
}

// UpdateMeHandler updates the authenticated caller's profile.
// @Summary      Update Your Own Profile
// @Description  Changes the display name, phone number and avatar URL of the currently authenticated user. Email, password and role cannot be changed here.
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        profile body UpdateMeRequest true "The profile fields to change; 'name' is required."
// @Success      200  {object}  ProfileResponse "The updated profile."
// @Failure      400  {object}  utils.APIError "Bad Request: invalid body or missing name."
// @Failure      401  {object}  utils.APIError "Unauthorized: missing or invalid access token."
// @Failure      404  {object}  utils.APIError "Not Found: the account behind this token no longer exists."
// @Failure      500  {object}  utils.APIError "Internal Server Error."
// @Router       /auth/me [put]
func UpdateMeHandler(c *gin.Context, database *db.Database, cfg *config.Config) {
	userID := c.GetString("userID")
	if userID == "" {
		utils.GinInternalServerError(c, "User ID not found in context.")
		return
	}

	var req UpdateMeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.GinBadRequest(c, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	updated, err := database.UpdateProfile(userID, models.Profile{
		Name:   strings.TrimSpace(req.Name),
		Phone:  strings.TrimSpace(req.Phone),
		Avatar: strings.TrimSpace(req.Avatar),
	})
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "not found") {
			utils.GinNotFound(c, "Authenticated user profile not found.")
		} else {
			utils.GinInternalServerError(c, fmt.Sprintf("Failed to update profile: %v", err))
		}
		return
	}

	c.JSON(http.StatusOK, toProfileResponse(updated))
}
