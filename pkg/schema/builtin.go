package schema

import "github.com/prompted365/golf/pkg/models"

// Gmail returns the built-in mailbox integration schema. It doubles as
// the reference example for integration authors.
func Gmail() *models.IntegrationSchema {
	return &models.IntegrationSchema{
		Integration: "gmail",
		Resources: map[string]models.ResourceSchema{
			"EMAILS": {
				"tags":        {PermissionField: "tags", DataType: models.TypeTags, Description: "labels applied to the message"},
				"sender":      {PermissionField: "sender", DataType: models.TypeEmailAddress, Description: "address the message came from"},
				"recipient":   {PermissionField: "recipient", DataType: models.TypeEmailAddress, Description: "address the message was sent to"},
				"subject":     {PermissionField: "name", DataType: models.TypeString, Description: "subject line"},
				"date":        {PermissionField: "date", DataType: models.TypeDatetime, Description: "time the message was received"},
				"attachments": {PermissionField: "has_attachments", DataType: models.TypeBoolean, Description: "whether the message carries attachments"},
				"domain":      {PermissionField: "domain", DataType: models.TypeString, Description: "sender domain"},
			},
			"ATTACHMENTS": {
				"name":      {PermissionField: "name", DataType: models.TypeString, Description: "file name"},
				"size":      {PermissionField: "size", DataType: models.TypeNumber, Description: "size in bytes"},
				"mime_type": {PermissionField: "type", DataType: models.TypeString, Description: "MIME type"},
			},
		},
		HelperMappings: map[string]string{
			"TAGGED": "tags",
			"NAMED":  "name",
			"FROM":   "sender",
		},
	}
}

// Linear returns the built-in issue-tracker integration schema.
func Linear() *models.IntegrationSchema {
	return &models.IntegrationSchema{
		Integration: "linear",
		Resources: map[string]models.ResourceSchema{
			"ISSUES": {
				"id":           {PermissionField: "id", DataType: models.TypeString, Description: "issue identifier"},
				"title":        {PermissionField: "name", DataType: models.TypeString, Description: "issue title"},
				"description":  {PermissionField: "description", DataType: models.TypeString, Description: "issue body"},
				"assignee":     {PermissionField: "assignee", DataType: models.TypeUser, Description: "user the issue is assigned to"},
				"labels":       {PermissionField: "tags", DataType: models.TypeTags, Description: "labels applied to the issue"},
				"status":       {PermissionField: "status", DataType: models.TypeString, Description: "workflow state"},
				"created_date": {PermissionField: "created_date", DataType: models.TypeDatetime, Description: "creation time"},
				"updated_date": {PermissionField: "updated_date", DataType: models.TypeDatetime, Description: "last update time"},
			},
			"TEAMS": {
				"id":    {PermissionField: "id", DataType: models.TypeString, Description: "team identifier"},
				"name":  {PermissionField: "name", DataType: models.TypeString, Description: "team name"},
				"key":   {PermissionField: "key", DataType: models.TypeString, Description: "team key prefix"},
				"owner": {PermissionField: "owner", DataType: models.TypeUser, Description: "team owner"},
			},
		},
		HelperMappings: map[string]string{
			"TAGGED":      "tags",
			"NAMED":       "name",
			"ASSIGNED_TO": "assignee",
		},
	}
}

// RegisterBuiltins installs the bundled example integrations.
func RegisterBuiltins(r *Registry) error {
	for _, s := range []*models.IntegrationSchema{Gmail(), Linear()} {
		if err := r.Register(s); err != nil {
			return err
		}
	}
	return nil
}
