package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/94nj111/library-service/api/controllers"
	"github.com/94nj111/library-service/api/middleware"
	"github.com/94nj111/library-service/internal/books"
	"github.com/94nj111/library-service/internal/borrowings"
	"github.com/94nj111/library-service/internal/payments"
	"github.com/94nj111/library-service/pkg/config"
	"github.com/94nj111/library-service/pkg/enums"
	"github.com/94nj111/library-service/pkg/logger"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	readiness map[string]controllers.Pinger,
	bookService books.Service,
	borrowingService borrowings.Service,
	paymentService payments.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, readiness))
	})

	// Identity management lives outside this service; the mint route exists
	// so non-prod environments can exercise authenticated routes.
	if !cfg.App.IsProd() {
		r.Post("/api/v1/auth/token", controllers.DevMintToken(cfg, logg))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Route("/books", func(r chi.Router) {
			r.Get("/", controllers.ListBooks(bookService, logg))
			r.Get("/{bookId}", controllers.GetBook(bookService, logg))

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(enums.RoleAdmin, logg))
				r.Post("/", controllers.CreateBook(bookService, logg))
				r.Patch("/{bookId}", controllers.UpdateBook(bookService, logg))
				r.Delete("/{bookId}", controllers.DeleteBook(bookService, logg))
			})
		})

		r.Route("/borrowings", func(r chi.Router) {
			r.Get("/", controllers.ListBorrowings(borrowingService, logg))
			r.Post("/", controllers.CreateBorrowing(borrowingService, logg))
			r.Get("/{borrowingId}", controllers.GetBorrowing(borrowingService, logg))
			r.Post("/{borrowingId}/return", controllers.ReturnBorrowing(borrowingService, logg))
		})

		r.Route("/payments", func(r chi.Router) {
			r.Get("/", controllers.ListPayments(paymentService, logg))
			r.Get("/success", controllers.PaymentSuccess(paymentService, logg))
			r.Get("/cancel", controllers.PaymentCancel(paymentService, logg))
			r.Post("/{borrowingId}/create-session", controllers.CreatePaymentSession(paymentService, logg))
			r.Post("/{paymentId}/renew", controllers.RenewPayment(paymentService, logg))
			r.Get("/{paymentId}", controllers.GetPayment(paymentService, logg))
		})
	})

	return r
}
