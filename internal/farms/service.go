package farms

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/datatypes"

	"carboniq/farm-portal/farm-portal-backend/internal/auth"
	"carboniq/farm-portal/farm-portal-backend/internal/verification"
	"carboniq/farm-portal/farm-portal-backend/pkg/geospatial"
	"carboniq/farm-portal/farm-portal-backend/pkg/pdf"
	"carboniq/farm-portal/farm-portal-backend/pkg/security"
	"carboniq/farm-portal/farm-portal-backend/pkg/storage"
	"carboniq/farm-portal/farm-portal-backend/pkg/workflows"
)

type Service interface {
	CreateFarm(ctx context.Context, userID uuid.UUID, req CreateFarmRequest) (*Farm, error)
	GetFarm(ctx context.Context, userID, farmID uuid.UUID) (*Farm, error)
	ListFarms(ctx context.Context, userID uuid.UUID, filter ListFilter) ([]Farm, error)
	Summary(ctx context.Context, userID uuid.UUID) (*DashboardSummary, error)
	StatusHistory(ctx context.Context, userID, farmID uuid.UUID) ([]FarmStatusHistory, error)

	// VerifyFarm evaluates a pending farm and stores the outcome. Final farms are returned unchanged.
	VerifyFarm(ctx context.Context, farmID uuid.UUID) (*Farm, error)
	ReverifyFarm(ctx context.Context, userID, farmID uuid.UUID) (*Farm, error)
	ApplyResult(ctx context.Context, farmID uuid.UUID, result *verification.Result) (*Farm, bool, error)

	AddPhoto(ctx context.Context, userID, farmID uuid.UUID, upload PhotoUpload) (*FarmPhoto, error)
	ListPhotos(ctx context.Context, userID, farmID uuid.UUID) ([]FarmPhoto, error)
	Certificate(ctx context.Context, userID, farmID uuid.UUID) (io.ReadSeeker, error)
	// VerifyCertificate checks a certificate signature against the stored farm
	VerifyCertificate(ctx context.Context, token string) (*CertificateCheck, error)

	// Close waits for result listeners that are still running
	Close()
}

const (
	defaultInlineLease = time.Minute
	listenerSlots      = 8
)

// Evaluator scores a submission
type Evaluator interface {
	Evaluate(ctx context.Context, sub verification.FarmSubmission) (*verification.Result, error)
}

// ResultListener is told about every farm that reached a final status
type ResultListener interface {
	FarmEvaluated(ctx context.Context, farm *Farm)
}

type UserLookup interface {
	GetUser(ctx context.Context, id uuid.UUID) (*auth.User, error)
}

type PhotoUpload struct {
	Type        PhotoType
	FileName    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Dependencies wires the farm service. Storage, Users and Listeners are optional.
type Dependencies struct {
	Repo         Repository
	Engine       Evaluator
	Storage      storage.S3Client
	Bucket       string
	PresignTTL   time.Duration
	Certificates pdf.Generator
	Signer       *security.Signer
	Users        UserLookup
	Listeners    []ResultListener
	Logger       *zap.Logger
	// SyncOnCreate evaluates inside CreateFarm; otherwise the outbox worker picks the farm up.
	SyncOnCreate bool
	// InlineLease delays the outbox job of a farm evaluated inline so the worker does not race it
	InlineLease time.Duration
}

type farmService struct {
	repo         Repository
	engine       Evaluator
	sm           *workflows.StateMachine
	storage      storage.S3Client
	bucket       string
	presignTTL   time.Duration
	certificates pdf.Generator
	signer       *security.Signer
	users        UserLookup
	listeners    []ResultListener
	logger       *zap.Logger
	syncOnCreate bool
	inlineLease  time.Duration
	now          func() time.Time

	inflight  singleflight.Group
	slots     chan struct{}
	listening sync.WaitGroup
}

func NewService(deps Dependencies) Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	certs := deps.Certificates
	if certs == nil {
		certs = pdf.NewGenerator()
	}
	lease := deps.InlineLease
	if lease <= 0 {
		lease = defaultInlineLease
	}
	return &farmService{
		repo:         deps.Repo,
		engine:       deps.Engine,
		sm:           workflows.NewStateMachine(),
		storage:      deps.Storage,
		bucket:       deps.Bucket,
		presignTTL:   deps.PresignTTL,
		certificates: certs,
		signer:       deps.Signer,
		users:        deps.Users,
		listeners:    deps.Listeners,
		logger:       logger,
		syncOnCreate: deps.SyncOnCreate,
		inlineLease:  lease,
		now:          time.Now,
		slots:        make(chan struct{}, listenerSlots),
	}
}

func (s *farmService) CreateFarm(ctx context.Context, userID uuid.UUID, req CreateFarmRequest) (*Farm, error) {
	if err := ValidateCreate(req); err != nil {
		return nil, err
	}

	farm, err := s.buildFarm(userID, req)
	if err != nil {
		return nil, err
	}

	firstAttempt := farm.CreatedAt
	if s.syncOnCreate {
		firstAttempt = firstAttempt.Add(s.inlineLease)
	}
	if err := s.repo.CreateFarm(ctx, farm, firstAttempt); err != nil {
		return nil, err
	}
	s.logger.Info("Farm submitted",
		zap.String("farm_id", farm.ID.String()),
		zap.String("user_id", userID.String()))

	if !s.syncOnCreate {
		return farm, nil
	}

	verified, err := s.VerifyFarm(ctx, farm.ID)
	if err != nil {
		// the outbox job is still pending and will retry
		s.logger.Warn("Inline verification failed, left for worker",
			zap.String("farm_id", farm.ID.String()),
			zap.Error(err))
		return farm, nil
	}
	return verified, nil
}

func (s *farmService) buildFarm(userID uuid.UUID, req CreateFarmRequest) (*Farm, error) {
	now := s.now().UTC()
	plantingDate, err := time.Parse(plantingDateLayout, req.PlantingDate)
	if err != nil {
		return nil, ValidationErrors{{Field: "planting_date", Message: "Planting date must be in YYYY-MM-DD format"}}
	}

	farm := &Farm{
		ID:                 uuid.New(),
		UserID:             userID,
		Name:               strings.TrimSpace(req.Name),
		LandSize:           req.LandSize,
		Latitude:           req.Latitude,
		Longitude:          req.Longitude,
		CropTypes:          pq.StringArray(normalizeSet(req.CropTypes)),
		FarmingPractices:   pq.StringArray(normalizeSet(req.FarmingPractices)),
		PlantingDate:       &plantingDate,
		VerificationStatus: workflows.StatusPending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if len(req.Boundary) > 0 {
		polygon, err := geospatial.NewBoundary(req.Boundary)
		if err != nil {
			return nil, ValidationErrors{{Field: "boundary", Message: boundaryMessage(err)}}
		}
		encoded, err := geospatial.ToGeoJSON(polygon)
		if err != nil {
			return nil, fmt.Errorf("failed to encode boundary: %w", err)
		}
		area := math.Round(geospatial.ConvertToHectares(geospatial.CalculateArea(polygon))*100) / 100
		centre := geospatial.Centroid(polygon)
		lat, lng := centre.Lat(), centre.Lng()
		farm.Boundary = datatypes.JSON(encoded)
		farm.BoundaryAreaHa = &area
		farm.CentroidLatitude = &lat
		farm.CentroidLongitude = &lng
	}
	return farm, nil
}

func (s *farmService) GetFarm(ctx context.Context, userID, farmID uuid.UUID) (*Farm, error) {
	farm, err := s.repo.GetFarm(ctx, farmID)
	if err != nil {
		return nil, err
	}
	if farm.UserID != userID {
		return nil, ErrForbidden
	}
	return farm, nil
}

func (s *farmService) ListFarms(ctx context.Context, userID uuid.UUID, filter ListFilter) ([]Farm, error) {
	if filter.Status != "" && !s.sm.IsKnown(filter.Status) {
		return nil, ValidationErrors{{Field: "status", Message: "unknown verification status"}}
	}
	return s.repo.ListFarms(ctx, userID, filter)
}

func (s *farmService) Summary(ctx context.Context, userID uuid.UUID) (*DashboardSummary, error) {
	return s.repo.Summary(ctx, userID)
}

func (s *farmService) StatusHistory(ctx context.Context, userID, farmID uuid.UUID) ([]FarmStatusHistory, error) {
	if _, err := s.GetFarm(ctx, userID, farmID); err != nil {
		return nil, err
	}
	return s.repo.ListStatusHistory(ctx, farmID)
}

// VerifyFarm joins an evaluation already running for the same farm instead of starting another
func (s *farmService) VerifyFarm(ctx context.Context, farmID uuid.UUID) (*Farm, error) {
	v, err, _ := s.inflight.Do(farmID.String(), func() (interface{}, error) {
		return s.verify(ctx, farmID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Farm), nil
}

func (s *farmService) verify(ctx context.Context, farmID uuid.UUID) (*Farm, error) {
	farm, err := s.repo.GetFarm(ctx, farmID)
	if err != nil {
		return nil, err
	}
	if farm.VerificationStatus != workflows.StatusPending {
		return farm, nil
	}

	result, err := s.engine.Evaluate(ctx, farm.Submission())
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate farm: %w", err)
	}

	updated, _, err := s.ApplyResult(ctx, farmID, result)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *farmService) ReverifyFarm(ctx context.Context, userID, farmID uuid.UUID) (*Farm, error) {
	if _, err := s.GetFarm(ctx, userID, farmID); err != nil {
		return nil, err
	}
	return s.VerifyFarm(ctx, farmID)
}

func (s *farmService) ApplyResult(ctx context.Context, farmID uuid.UUID, result *verification.Result) (*Farm, bool, error) {
	farm, err := s.repo.GetFarm(ctx, farmID)
	if err != nil {
		return nil, false, err
	}
	if s.sm.IsFinal(farm.VerificationStatus) {
		return farm, false, nil
	}
	if !s.sm.CanTransition(farm.VerificationStatus, string(result.Status)) {
		return nil, false, fmt.Errorf("%w: %s to %s (allowed: %s)", ErrInvalidTransition,
			farm.VerificationStatus, result.Status, strings.Join(s.sm.GetAllowedTransitions(farm.VerificationStatus), ", "))
	}

	applied, err := s.repo.ApplyResult(ctx, farmID, result)
	if err != nil {
		return nil, false, err
	}

	farm, err = s.repo.GetFarm(ctx, farmID)
	if err != nil {
		return nil, false, err
	}
	if !applied {
		return farm, false, nil
	}

	s.logger.Info("Farm verification applied",
		zap.String("farm_id", farmID.String()),
		zap.String("status", farm.VerificationStatus),
		zap.Strings("rejection_reasons", result.RejectionReasons))

	s.notify(ctx, farm)
	return farm, true, nil
}

// notify hands a copy of the farm to the listeners off the request path.
// At most listenerSlots dispatches run at once.
func (s *farmService) notify(ctx context.Context, farm *Farm) {
	if len(s.listeners) == 0 {
		return
	}
	snapshot := *farm
	ctx = context.WithoutCancel(ctx)

	s.listening.Add(1)
	go func() {
		defer s.listening.Done()
		s.slots <- struct{}{}
		defer func() { <-s.slots }()
		for _, l := range s.listeners {
			l.FarmEvaluated(ctx, &snapshot)
		}
	}()
}

func (s *farmService) Close() {
	s.listening.Wait()
}

func (s *farmService) AddPhoto(ctx context.Context, userID, farmID uuid.UUID, upload PhotoUpload) (*FarmPhoto, error) {
	if s.storage == nil {
		return nil, ErrStorageDisabled
	}
	if _, err := s.GetFarm(ctx, userID, farmID); err != nil {
		return nil, err
	}
	if upload.Type == "" {
		upload.Type = PhotoGeneral
	}
	if !upload.Type.Valid() {
		return nil, ValidationErrors{{Field: "photo_type", Message: "Photo type must be soil, crops, trees or general"}}
	}

	photo := &FarmPhoto{
		ID:          uuid.New(),
		FarmID:      farmID,
		PhotoType:   upload.Type,
		FileName:    path.Base(upload.FileName),
		ContentType: upload.ContentType,
		FileSize:    upload.Size,
		UploadedAt:  s.now().UTC(),
	}
	photo.S3Key = photoKey(farmID, photo.PhotoType, photo.ID, photo.FileName)

	if err := s.storage.Upload(ctx, s.bucket, photo.S3Key, upload.ContentType, upload.Body); err != nil {
		return nil, fmt.Errorf("failed to upload photo: %w", err)
	}
	if err := s.repo.CreatePhoto(ctx, photo); err != nil {
		if delErr := s.storage.Delete(ctx, s.bucket, photo.S3Key); delErr != nil {
			s.logger.Warn("Failed to remove orphaned photo", zap.String("key", photo.S3Key), zap.Error(delErr))
		}
		return nil, err
	}
	s.attachURL(ctx, photo)
	return photo, nil
}

func (s *farmService) ListPhotos(ctx context.Context, userID, farmID uuid.UUID) ([]FarmPhoto, error) {
	if _, err := s.GetFarm(ctx, userID, farmID); err != nil {
		return nil, err
	}
	photos, err := s.repo.ListPhotos(ctx, farmID)
	if err != nil {
		return nil, err
	}
	for i := range photos {
		s.attachURL(ctx, &photos[i])
	}
	return photos, nil
}

func (s *farmService) attachURL(ctx context.Context, photo *FarmPhoto) {
	if s.storage == nil {
		return
	}
	url, err := s.storage.GetPresignedURL(ctx, s.bucket, photo.S3Key, s.presignTTL)
	if err != nil {
		s.logger.Warn("Failed to presign photo", zap.String("photo_id", photo.ID.String()), zap.Error(err))
		return
	}
	photo.URL = url
}

func (s *farmService) Certificate(ctx context.Context, userID, farmID uuid.UUID) (io.ReadSeeker, error) {
	farm, err := s.GetFarm(ctx, userID, farmID)
	if err != nil {
		return nil, err
	}
	if farm.VerificationStatus != workflows.StatusVerified || farm.CarbonCredits == nil {
		return nil, ErrNotVerified
	}

	cert := pdf.Certificate{
		FarmID:        farm.ID.String(),
		FarmName:      farm.Name,
		LandSize:      farm.LandSize,
		CropTypes:     farm.CropTypes,
		Practices:     farm.FarmingPractices,
		CarbonCredits: *farm.CarbonCredits,
	}
	if farm.ConfidenceScore != nil {
		cert.ConfidenceScore = *farm.ConfidenceScore
	}
	if farm.Latitude != nil && farm.Longitude != nil {
		cert.Latitude, cert.Longitude = *farm.Latitude, *farm.Longitude
	}
	if farm.VerifiedAt != nil {
		cert.VerifiedAt = *farm.VerifiedAt
	}
	if s.users != nil {
		if owner, err := s.users.GetUser(ctx, farm.UserID); err == nil {
			cert.OwnerName = owner.FullName
		}
	}
	if s.signer != nil {
		sig, err := s.signer.SignCertificate(cert.FarmID, cert.CarbonCredits, cert.ConfidenceScore, cert.VerifiedAt)
		if err != nil {
			return nil, err
		}
		cert.Signature = sig
	}

	doc, err := s.certificates.Certificate(ctx, cert)
	if err != nil {
		return nil, err
	}

	if s.storage != nil {
		key := fmt.Sprintf("farms/%s/certificate.pdf", farm.ID)
		if err := s.storage.Upload(ctx, s.bucket, key, "application/pdf", doc); err != nil {
			s.logger.Warn("Failed to archive certificate", zap.String("farm_id", farm.ID.String()), zap.Error(err))
		}
		if _, err := doc.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("failed to rewind certificate: %w", err)
		}
	}
	return doc, nil
}

func (s *farmService) VerifyCertificate(ctx context.Context, token string) (*CertificateCheck, error) {
	if s.signer == nil {
		return nil, ErrInvalidCertificate
	}
	claims, err := s.signer.VerifyCertificate(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
	}
	farmID, err := uuid.Parse(claims.FarmID)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed farm id", ErrInvalidCertificate)
	}
	farm, err := s.repo.GetFarm(ctx, farmID)
	if errors.Is(err, ErrFarmNotFound) {
		return nil, fmt.Errorf("%w: unknown farm", ErrInvalidCertificate)
	}
	if err != nil {
		return nil, err
	}

	check := &CertificateCheck{
		FarmID:          farm.ID,
		FarmName:        farm.Name,
		CarbonCredits:   claims.CarbonCredits,
		ConfidenceScore: claims.ConfidenceScore,
		VerifiedAt:      farm.VerifiedAt,
	}
	// the farm must still carry the figures printed on the certificate
	check.Valid = farm.VerificationStatus == workflows.StatusVerified &&
		farm.CarbonCredits != nil && *farm.CarbonCredits == claims.CarbonCredits &&
		farm.ConfidenceScore != nil && *farm.ConfidenceScore == claims.ConfidenceScore
	return check, nil
}

func photoKey(farmID uuid.UUID, photoType PhotoType, photoID uuid.UUID, fileName string) string {
	return fmt.Sprintf("farms/%s/photos/%s/%s-%s", farmID, photoType, photoID, fileName)
}

// IsClientError reports whether err is caused by the request rather than the server
func IsClientError(err error) bool {
	var verrs ValidationErrors
	return errors.As(err, &verrs) ||
		errors.Is(err, ErrFarmNotFound) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrInvalidCertificate) ||
		errors.Is(err, ErrNotVerified)
}
