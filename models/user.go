package models

import (
	"time"
)

type Role string

const (
	AdminRole      Role = "ADMIN"
	UserRole       Role = "USER"
	ContentCreator Role = "CONTENT_CREATOR"
)

// User is an account; creators are users with the CONTENT_CREATOR role.
type User struct {
	ID               string    `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	Email            string    `json:"email" gorm:"uniqueIndex;not null"`
	Password         string    `json:"-"`
	UserName         string    `json:"username"`
	DisplayName      string    `json:"displayName"`
	Bio              string    `json:"bio"`
	ProfilePicture   string    `json:"profilePicture"`
	Role             Role      `json:"role" gorm:"type:varchar(20);default:'USER'"`
	StripeCustomerId string    `json:"-" gorm:"index"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// UserCreate is the payload for registration and login
// @Description credentials used to register or log in
type UserCreate struct {
	Email    string `json:"email" binding:"required,email" example:"fan@fanrealms.dev"`
	Password string `json:"password" binding:"required,min=6" example:"Password123"`
	UserName string `json:"username" example:"fan42"`
}

// UserLogin is the payload of POST /login
type UserLogin struct {
	Email    string `json:"email" binding:"required,email" example:"fan@fanrealms.dev"`
	Password string `json:"password" binding:"required" example:"Password123"`
}

// BecomeCreator is the payload sent by a user switching to a creator account
type BecomeCreator struct {
	DisplayName string `json:"displayName" binding:"required,max=80" example:"Ink & Brush"`
	Bio         string `json:"bio" binding:"max=2000"`
}

func (u User) IsCreator() bool {
	return u.Role == ContentCreator || u.Role == AdminRole
}

// UserUpdate is the multipart form of PUT /users/me; empty fields are left unchanged
type UserUpdate struct {
	UserName    string `form:"username" binding:"omitempty,max=50"`
	DisplayName string `form:"displayName" binding:"omitempty,max=80"`
	Bio         string `form:"bio" binding:"omitempty,max=2000"`
}
