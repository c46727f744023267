package service

import (
	"go.uber.org/zap"

	"kyc-service/internal/config"
	"kyc-service/internal/hashing"
)

// ServiceFactory creates and manages service instances
type ServiceFactory struct {
	cfg      *config.Config
	kycDeps  KYCDeps
	presence PresenceStore
	hasher   *hashing.Hasher
	logger   *zap.Logger

	kycService      *KYCService
	userService     *UserService
	presenceService *PresenceService
}

func NewServiceFactory(cfg *config.Config, kycDeps KYCDeps, presence PresenceStore, hasher *hashing.Hasher, logger *zap.Logger) *ServiceFactory {
	return &ServiceFactory{
		cfg:      cfg,
		kycDeps:  kycDeps,
		presence: presence,
		hasher:   hasher,
		logger:   logger,
	}
}

// KYCService returns the KYC service instance (singleton)
func (f *ServiceFactory) KYCService() *KYCService {
	if f.kycService == nil {
		f.kycService = NewKYCService(f.kycDeps, f.cfg, f.logger.Named("kyc"))
	}
	return f.kycService
}

func (f *ServiceFactory) UserService() *UserService {
	if f.userService == nil {
		f.userService = NewUserService(f.kycDeps.Users, f.hasher, f.logger.Named("users"))
	}
	return f.userService
}

func (f *ServiceFactory) PresenceService() *PresenceService {
	if f.presenceService == nil {
		f.presenceService = NewPresenceService(f.presence, f.cfg.Presence.StaleAfter)
	}
	return f.presenceService
}
