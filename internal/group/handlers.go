package group

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/akbasozcan3/isci-takip-app-sub002/internal/auth"
)

func RegisterRoutes(r fiber.Router, svc *Service, authMiddleware fiber.Handler) {
	r.Post("/", authMiddleware, func(c *fiber.Ctx) error {
		var req struct {
			Name string `json:"name"`
		}
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
		}
		g, err := svc.Create(c.Context(), req.Name, auth.UserID(c))
		if err != nil {
			return httpError(err)
		}
		return c.Status(fiber.StatusCreated).JSON(g)
	})

	r.Get("/:id", authMiddleware, func(c *fiber.Ctx) error {
		g, err := svc.Get(c.Context(), c.Params("id"))
		if err != nil {
			return httpError(err)
		}
		return c.JSON(g)
	})

	r.Delete("/:id", authMiddleware, func(c *fiber.Ctx) error {
		if err := svc.Delete(c.Context(), c.Params("id"), auth.UserID(c)); err != nil {
			return httpError(err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	r.Post("/:id/join-requests", authMiddleware, func(c *fiber.Ctx) error {
		m, err := svc.RequestJoin(c.Context(), c.Params("id"), auth.UserID(c))
		if err != nil {
			return httpError(err)
		}
		return c.Status(fiber.StatusCreated).JSON(m)
	})

	r.Get("/:id/members", authMiddleware, func(c *fiber.Ctx) error {
		groupID := c.Params("id")
		ok, err := svc.IsMember(c.Context(), groupID, auth.UserID(c))
		if err != nil {
			return httpError(err)
		}
		if !ok {
			return httpError(ErrForbidden)
		}
		members, err := svc.Members(c.Context(), groupID)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(members)
	})

	r.Post("/:id/members/:userId/approve", authMiddleware, func(c *fiber.Ctx) error {
		m, err := svc.Approve(c.Context(), c.Params("id"), auth.UserID(c), c.Params("userId"))
		if err != nil {
			return httpError(err)
		}
		return c.JSON(m)
	})

	r.Get("/:id/members-with-locations", authMiddleware, func(c *fiber.Ctx) error {
		members, err := svc.MembersWithLocations(c.Context(), c.Params("id"), auth.UserID(c))
		if err != nil {
			return httpError(err)
		}
		return c.JSON(members)
	})
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, ErrForbidden):
		return fiber.NewError(fiber.StatusForbidden, err.Error())
	case errors.Is(err, ErrInvalidName):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	default:
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
}
