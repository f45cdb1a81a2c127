package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/studio-portal-api/internal/middleware"
	"github.com/noah-isme/studio-portal-api/internal/models"
)

// Handlers groups the HTTP handlers mounted by RegisterRoutes. Reports may be
// nil when exports are disabled.
type Handlers struct {
	Slots       *SlotHandler
	Occurrences *OccurrenceHandler
	Ledger      *LedgerHandler
	Reschedules *RescheduleHandler
	Reports     *ReportHandler
}

// RegisterRoutes mounts the portal API on api. auth must populate the actor.
func RegisterRoutes(api gin.IRouter, h Handlers, auth gin.HandlerFunc, audit *zap.Logger) {
	if h.Reports != nil {
		api.GET("/exports/:token", h.Reports.DownloadReport)
	}

	authed := api.Group("", auth)
	staff := authed.Group("", middleware.RequireStaff())
	self := middleware.RBAC(string(models.RoleAdmin), string(models.RoleSuperAdmin), middleware.Self)

	slots := staff.Group("/slots")
	slots.GET("", h.Slots.List)
	slots.GET("/:id", h.Slots.Get)
	slots.POST("", middleware.Audit(audit, "create_slot", "fixed_slot"), h.Slots.Create)
	slots.POST("/bulk", middleware.Audit(audit, "bulk_create_slot", "fixed_slot"), h.Slots.BulkCreate)
	slots.DELETE("/group", middleware.Audit(audit, "delete_slot_group", "fixed_slot"), h.Slots.DeleteGroup)
	slots.PATCH("/:id/note", middleware.Audit(audit, "update_turma_note", "fixed_slot"), h.Slots.UpdateTurmaNote)
	slots.POST("/:id/members", middleware.Audit(audit, "add_member", "fixed_slot"), h.Slots.AddMember)
	slots.DELETE("/:id/members/:studentId", middleware.Audit(audit, "remove_member", "fixed_slot"), h.Slots.RemoveMember)
	slots.PATCH("/:id/members/:studentId/note", middleware.Audit(audit, "update_member_note", "fixed_slot"), h.Slots.UpdateMemberNote)

	occ := staff.Group("/occurrences")
	occ.GET("/pending", h.Occurrences.Pending)
	occ.GET("/:id", h.Occurrences.Get)
	occ.POST("/finalize", middleware.Audit(audit, "finalize_occurrence", "occurrence"), h.Occurrences.Finalize)
	occ.POST("/attendance", middleware.Audit(audit, "mark_attendance", "occurrence"), h.Occurrences.Mark)
	occ.POST("/cancel", middleware.Audit(audit, "cancel_occurrence", "occurrence"), h.Occurrences.Cancel)
	occ.POST("/:id/revert", middleware.Audit(audit, "revert_occurrence", "occurrence"), h.Occurrences.Revert)
	occ.POST("/:id/undo-cancel", middleware.Audit(audit, "undo_cancellation", "occurrence"), h.Occurrences.UndoCancel)

	students := authed.Group("/students/:studentId", self)
	students.GET("/occurrences", h.Occurrences.StudentOccurrences)
	students.GET("/credits", h.Ledger.StudentCredits)

	authed.POST("/absences", h.Ledger.FileAbsence)
	authed.GET("/absences", h.Ledger.ListAbsences)
	authed.POST("/absences/:id/cancel", h.Ledger.CancelAbsence)
	staff.POST("/absences/confirm-due", middleware.Audit(audit, "confirm_due_absences", "absence"), h.Ledger.ConfirmDue)

	staff.POST("/credits", middleware.Audit(audit, "grant_credit", "credit"), h.Ledger.GrantCredit)
	authed.POST("/credits/:id/redeem", h.Ledger.RedeemCredit)
	authed.DELETE("/redemptions/:id", h.Ledger.UndoRedemption)

	authed.POST("/reschedules", h.Reschedules.Propose)
	authed.GET("/reschedules", h.Reschedules.List)
	authed.GET("/reschedules/:id", h.Reschedules.Get)
	staff.POST("/reschedules/:id/approve", middleware.Audit(audit, "approve_reschedule", "reschedule"), h.Reschedules.Approve)
	staff.POST("/reschedules/:id/reject", middleware.Audit(audit, "reject_reschedule", "reschedule"), h.Reschedules.Reject)

	if h.Reports != nil {
		staff.POST("/reports", middleware.Audit(audit, "queue_report", "report"), h.Reports.GenerateReport)
		staff.GET("/reports/:id", h.Reports.ReportStatus)
	}
}
