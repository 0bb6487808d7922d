package DAO

import (
	"TXC/pkg"

	"gorm.io/gorm"
)

type QueryOption func(db *gorm.DB) *gorm.DB

func WithID(id uint) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("id = ?", id)
	}
}

func WithStatus(statuses ...pkg.TXStatus) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		values := make([]string, 0, len(statuses))
		for _, status := range statuses {
			values = append(values, status.String())
		}
		return db.Where("status IN ?", values)
	}
}

func WithContextID(id pkg.ContextID) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("context_id = ?", string(id))
	}
}
