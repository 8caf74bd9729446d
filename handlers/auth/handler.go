package auth

import (
	"errors"
	"net/http"
	"strings"

	"fanrealms-backend/db"
	"fanrealms-backend/models"
	"fanrealms-backend/utils"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// @Summary Create a new user
// @Description Create a new user with the provided information
// @Tags auth
// @Accept json
// @Produce json
// @Param user body models.UserCreate true "User information"
// @Success 201 {object} map[string]interface{} "message: User created successfully, email: user email"
// @Failure 400 {object} map[string]interface{} "error: Invalid input"
// @Failure 409 {object} map[string]interface{} "error: Email already exists"
// @Failure 500 {object} map[string]interface{} "error: Error message"
// @Router /register [post]
func CreateUser(c *gin.Context) {
	var input models.UserCreate
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input: " + err.Error()})
		return
	}

	hasLower := strings.ContainsAny(input.Password, "abcdefghijklmnopqrstuvwxyz")
	hasUpper := strings.ContainsAny(input.Password, "ABCDEFGHIJKLMNOPQRSTUVWXYZ")
	hasDigit := strings.ContainsAny(input.Password, "0123456789")
	if !hasLower || !hasUpper || !hasDigit {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "The password must contain at least one lowercase, one uppercase and one digit",
		})
		return
	}

	email := strings.ToLower(strings.TrimSpace(input.Email))

	var existingUser models.User
	if err := db.DB.Where("email = ?", email).First(&existingUser).Error; err == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "This email is already used"})
		return
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		utils.LogError(err, "Error when checking the email existence in CreateUser")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error when checking the email existence"})
		return
	}

	passwordHash, err := hashPassword(input.Password)
	if err != nil {
		utils.LogError(err, "Error when hashing the password in CreateUser")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error when hashing the password"})
		return
	}

	user := models.User{
		Email:    email,
		Password: passwordHash,
		UserName: input.UserName,
		Role:     models.UserRole,
	}
	if err := db.DB.Create(&user).Error; err != nil {
		utils.LogError(err, "Error when creating the user in CreateUser")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error when creating the user"})
		return
	}

	utils.LogSuccessWithUser(user.ID, "User created in CreateUser")
	c.JSON(http.StatusCreated, gin.H{
		"message": "User created successfully",
		"email":   user.Email,
	})
}

// @Summary user login
// @Description user login with credential
// @Tags auth
// @Accept json
// @Produce json
// @Param user body models.UserLogin true "Credentials"
// @Success 200 {object} map[string]interface{} "token: JWT"
// @Failure 400 {object} map[string]interface{} "error: Invalid input"
// @Failure 401 {object} map[string]interface{} "error: Wrong credentials"
// @Failure 500 {object} map[string]interface{} "error: JWT not generated"
// @Router /login [post]
func Login(c *gin.Context) {
	var input models.UserLogin
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input: " + err.Error()})
		return
	}

	var user models.User
	err := db.DB.Where("email = ?", strings.ToLower(strings.TrimSpace(input.Email))).First(&user).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			utils.LogError(err, "Error when loading the user in Login")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Error when loading the user"})
			return
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Wrong credentials"})
		return
	}

	if !samePassword(input.Password, user.Password) {
		utils.LogErrorWithUser(user.ID, nil, "Wrong password in Login")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Wrong credentials"})
		return
	}

	token, err := utils.GenerateJWT(user)
	if err != nil {
		utils.LogErrorWithUser(user.ID, err, "Error when generating the JWT in Login")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "JWT not generated"})
		return
	}

	utils.LogSuccessWithUser(user.ID, "User logged in")
	c.JSON(http.StatusOK, gin.H{"token": token})
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func samePassword(formPassword string, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(formPassword)) == nil
}
