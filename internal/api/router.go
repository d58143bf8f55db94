package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/medibook/booking-service/internal/booking"
	"github.com/medibook/booking-service/internal/observability/metrics"
)

// BookingService is the slice of the booking service the handlers call.
type BookingService interface {
	ListDoctors(ctx context.Context) ([]booking.Doctor, error)
	GetDoctor(ctx context.Context, doctorID uuid.UUID) (*booking.Doctor, error)
	ListAvailableSlots(ctx context.Context, doctorID uuid.UUID) (*booking.WeekSchedule, error)
	BookSlot(ctx context.Context, doctorID, patientID uuid.UUID, date time.Time, slotTime booking.TimeOfDay) (*booking.Appointment, error)
	CancelByPatient(ctx context.Context, id, patientID uuid.UUID) (*booking.Appointment, error)
	CancelByDoctor(ctx context.Context, id, doctorID uuid.UUID) (*booking.Appointment, error)
	CompleteAppointment(ctx context.Context, id, doctorID uuid.UUID) (*booking.Appointment, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*booking.AppointmentDetail, error)
	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]booking.AppointmentDetail, error)
	ListAppointmentsByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]booking.AppointmentDetail, error)
	ListAllAppointments(ctx context.Context, limit, offset int) ([]booking.AppointmentDetail, error)
	SetDoctorAvailability(ctx context.Context, doctorID uuid.UUID, available bool) (*booking.Doctor, error)
}

type RouterConfig struct {
	Service   BookingService
	PgPool    *pgxpool.Pool
	Redis     *redis.Client
	Logger    *zap.Logger
	Metrics   *metrics.BookingMetrics
	Registry  *prometheus.Registry
	JWTSecret string
	Env       string
	Version   string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(RequestLogger(cfg.Logger))
	r.Use(cfg.Metrics.Middleware)

	// Health and metrics
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	if cfg.Registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{}))
	}

	// Public booking surface
	r.Get("/doctors", listDoctorsHandler(cfg.Service))
	r.Get("/doctors/{id}", getDoctorHandler(cfg.Service))
	r.Get("/doctors/{id}/slots", listAvailableSlotsHandler(cfg.Service, cfg.Metrics))

	// Patient surface
	r.Group(func(pr chi.Router) {
		pr.Use(RequireRole(cfg.JWTSecret, RolePatient))
		pr.Post("/appointments", bookAppointmentHandler(cfg.Service, cfg.Metrics))
		pr.Get("/patients/me/appointments", listPatientAppointmentsHandler(cfg.Service))
		pr.Post("/patients/me/appointments/{id}/cancel", cancelPatientAppointmentHandler(cfg.Service))
	})

	// Doctor surface
	r.Group(func(dr chi.Router) {
		dr.Use(RequireRole(cfg.JWTSecret, RoleDoctor))
		dr.Get("/doctors/me/appointments", listDoctorAppointmentsHandler(cfg.Service))
		dr.Post("/doctors/me/appointments/{id}/complete", completeAppointmentHandler(cfg.Service))
		dr.Post("/doctors/me/appointments/{id}/cancel", cancelDoctorAppointmentHandler(cfg.Service))
	})

	// Admin surface
	r.Route("/admin", func(ar chi.Router) {
		ar.Use(RequireRole(cfg.JWTSecret, RoleAdmin))
		ar.Get("/appointments", adminListAppointmentsHandler(cfg.Service))
		ar.Get("/appointments/{id}", getAppointmentHandler(cfg.Service))
		ar.Post("/doctors/{id}/availability", setDoctorAvailabilityHandler(cfg.Service))
	})

	return r
}
