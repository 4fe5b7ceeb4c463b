package tracking

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/akbasozcan3/isci-takip-app-sub002/internal/auth"
	"github.com/akbasozcan3/isci-takip-app-sub002/internal/shared/wire"
)

func RegisterRoutes(r fiber.Router, svc *Service, authMiddleware fiber.Handler) {
	r.Post("/locations", authMiddleware, func(c *fiber.Ctx) error {
		var req wire.Sample
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
		}
		caller := auth.UserID(c)
		if req.OwnerID == "" {
			req.OwnerID = caller
		}
		if caller != "" && req.OwnerID != caller {
			return fiber.NewError(fiber.StatusForbidden, "ownerId does not match bearer identity")
		}

		sample, err := svc.Record(c.Context(), req)
		if err != nil {
			if errors.Is(err, ErrInvalidSample) {
				return fiber.NewError(fiber.StatusBadRequest, err.Error())
			}
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.Status(fiber.StatusCreated).JSON(sample)
	})

	r.Get("/locations/:ownerId", authMiddleware, func(c *fiber.Ctx) error {
		ownerID := c.Params("ownerId")
		if err := authorizeRead(c, svc, ownerID); err != nil {
			return err
		}
		samples, err := svc.Recent(c.Context(), ownerID, c.QueryInt("limit", DefaultLimit))
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(samples)
	})

	r.Get("/locations/:ownerId/summary", authMiddleware, func(c *fiber.Ctx) error {
		ownerID := c.Params("ownerId")
		if err := authorizeRead(c, svc, ownerID); err != nil {
			return err
		}
		summary, err := svc.Summary(c.Context(), ownerID, c.QueryInt("limit", DefaultLimit))
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(summary)
	})
}

// authorizeRead lets callers read their own samples and those of members
// sharing a group with them.
func authorizeRead(c *fiber.Ctx, svc *Service, ownerID string) error {
	caller := auth.UserID(c)
	if caller == "" || caller == ownerID {
		return nil
	}
	ok, err := svc.SharesGroup(c.Context(), caller, ownerID)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	if !ok {
		return fiber.NewError(fiber.StatusForbidden, "not a member of a shared group")
	}
	return nil
}
