package catalog

import (
	"github.com/ajitpratap0/tap-adp/pkg/transform"
)

// streamDefinitions returns the ADP stream set in sync order: parents are
// declared before their children so contexts are available when a child runs.
func streamDefinitions() []StreamDefinition {
	return []StreamDefinition{
		{
			Name:        "workers",
			Path:        "/hr/v2/workers",
			PrimaryKeys: []string{"associateOID"},

			ReplicationMethod: ReplicationFullTable,
			RecordsKey:        "workers",
			Paginated:         true,
			Headers: map[string]string{
				// unmasked payloads need an explicit media-type parameter
				"Accept": "application/json;masked=false",
			},
			Schema: objectSchema(map[string]interface{}{
				"associateOID":          stringType(),
				"workerID":              objectType(),
				"person":                objectType(),
				"workerDates":           objectType(),
				"workerStatus":          objectType(),
				"workAssignments":       arrayType(),
				"businessCommunication": objectType(),
			}),
		},
		{
			Name:              "worker_demographic",
			Path:              "/hr/v2/worker-demographics",
			PrimaryKeys:       []string{"associateOID"},
			ReplicationMethod: ReplicationFullTable,
			RecordsKey:        "workers",
			Paginated:         true,
			Schema: objectSchema(map[string]interface{}{
				"associateOID": stringType(),
				"workerID":     objectType(),
				"person":       objectType(),
				"workerDates":  objectType(),
				"workerStatus": objectType(),
			}),
		},
		{
			Name:              "pay_distribution",
			Path:              "/payroll/v2/workers/{worker_aoid}/pay-distributions",
			PrimaryKeys:       []string{"itemID"},
			ReplicationMethod: ReplicationFullTable,
			RecordsKey:        "payDistributions",
			Parent:            "workers",
			ParentContext:     map[string]string{"worker_aoid": "associateOID"},
			Skippable: []SkippableCondition{
				// the upstream reports workers without a distribution as a 500
				{Status: 500, MessageContains: "Exception in the request"},
			},
			Schema: objectSchema(map[string]interface{}{
				"itemID":                   stringType(),
				"payrollGroupCode":         stringType(),
				"payrollFileNumber":        stringType(),
				"distributionInstructions": arrayType(),
			}),
		},
		{
			Name:              "payroll_instruction",
			Path:              "/payroll/v1/workers/{worker_aoid}/payroll-instructions",
			PrimaryKeys:       []string{"payrollAgreementID"},
			ReplicationMethod: ReplicationFullTable,
			RecordsKey:        "payrollInstructions",
			Parent:            "workers",
			ParentContext:     map[string]string{"worker_aoid": "associateOID"},
			Schema: objectSchema(map[string]interface{}{
				"payrollAgreementID":           stringType(),
				"payrollGroupCode":             objectType(),
				"payrollFileNumber":            stringType(),
				"generalDeductionInstructions": arrayType(),
			}),
		},
		{
			Name:              "us_tax_profile",
			Path:              "/payroll/v1/workers/{worker_aoid}/us-tax-profiles",
			PrimaryKeys:       []string{"itemID"},
			ReplicationMethod: ReplicationFullTable,
			RecordsKey:        "usTaxProfiles",
			Parent:            "workers",
			ParentContext:     map[string]string{"worker_aoid": "associateOID"},
			// workers with no tax profile come back as 404
			EmptyOnStatus: []int{404},
			Skippable: []SkippableCondition{
				{Status: 400, MessageContains: "As of Date is invalid"},
			},
			Schema: objectSchema(map[string]interface{}{
				"itemID":                stringType(),
				"associateOID":          stringType(),
				"federalTaxInstruction": objectType(),
				"stateTaxInstructions":  arrayType(),
				"localTaxInstructions":  arrayType(),
			}),
		},
		{
			Name:              "job_requisition",
			Path:              "/staffing/v1/job-requisitions",
			PrimaryKeys:       []string{"itemID"},
			ReplicationMethod: ReplicationFullTable,
			RecordsKey:        "jobRequisitions",
			Paginated:         true,
			Schema: objectSchema(map[string]interface{}{
				"itemID":                stringType(),
				"requisitionStatusCode": objectType(),
				"requisitionTitle":      stringType(),
				"postDate":              stringType(),
				"job":                   objectType(),
				"positions":             arrayType(),
			}),
		},
		{
			Name:              "job_application",
			Path:              "/staffing/v2/job-applications",
			PrimaryKeys:       []string{"itemID"},
			ReplicationMethod: ReplicationFullTable,
			RecordsKey:        "jobApplications",
			Paginated:         true,
			Schema: objectSchema(map[string]interface{}{
				"itemID":            stringType(),
				"applicantID":       objectType(),
				"applicationDate":   stringType(),
				"applicationStatus": objectType(),
				"job":               objectType(),
			}),
		},
		{
			Name:              "questionnaire",
			Path:              "/staffing/v3/work-fulfillment/recruiting-questionnaires/{requisition_id}",
			PrimaryKeys:       []string{"questionnaireID"},
			ReplicationMethod: ReplicationFullTable,
			// the response body is the questionnaire itself, not an envelope
			RecordsKey:    "",
			Parent:        "job_requisition",
			ParentContext: map[string]string{"requisition_id": "itemID"},
			Schema: objectSchema(map[string]interface{}{
				"questionnaireID":    stringType(),
				"questionnaireTitle": stringType(),
				"questions":          arrayType(),
			}),
		},
		{
			Name:              "department",
			Path:              "/hcm/v1/validation-tables/departments",
			PrimaryKeys:       []string{"payrollGroupCode", "_sdc_namecode_code"},
			ReplicationMethod: ReplicationFullTable,
			RecordsKey:        "listItems",
			Paginated:         true,
			// the second key component lives inside a nested object
			Rules: []transform.Rule{
				{Extract: &transform.ExtractRule{Path: "nameCode.code", To: "_sdc_namecode_code"}},
			},
			Schema: objectSchema(map[string]interface{}{
				"payrollGroupCode":   stringType(),
				"_sdc_namecode_code": stringType(),
				"nameCode":           objectType(),
				"effectiveDate":      stringType(),
			}),
		},
		{
			Name:              "pay_data_input",
			Path:              "/payroll/v1/pay-data-input",
			PrimaryKeys:       nil,
			ReplicationMethod: ReplicationFullTable,
			RecordsKey:        "payDataInput",
			Schema: objectSchema(map[string]interface{}{
				"itemID":              stringType(),
				"payrollGroupCode":    stringType(),
				"payDataInputWorkers": arrayType(),
			}),
		},
		{
			Name:              "payroll_output",
			Path:              "/payroll/v2/payroll-output",
			PrimaryKeys:       []string{"itemID"},
			ReplicationMethod: ReplicationIncremental,
			ReplicationKey:    "_sdc_modified_schedule_entry_id",
			RecordsKey:        "payrollOutputs",
			IncrementalFilter: "payPeriodEndDate ge {date}",
			// Recently completed payrolls may publish out of order, so the
			// bookmark is backed off 30 days from the schedule entry date to
			// re-pull anything that landed late.
			Rules: []transform.Rule{
				{Compute: &transform.ComputeRule{
					Field: "_sdc_modified_schedule_entry_id",
					DateAdd: &transform.DateAddExpr{
						Source:       "payrollScheduleReference.scheduleEntryID",
						Days:         -30,
						SourceLayout: "20060102",
					},
				}},
			},
			Schema: objectSchema(map[string]interface{}{
				"itemID":                          stringType(),
				"_sdc_modified_schedule_entry_id": stringType(),
				"payrollScheduleReference":        objectType(),
				"payPeriodEndDate":                stringType(),
				"payrollRegisterOutputs":          arrayType(),
			}),
		},
		{
			Name:              "payroll_output_acc",
			Path:              "/payroll/v2/payroll-output",
			PrimaryKeys:       []string{"itemID"},
			ReplicationMethod: ReplicationFullTable,
			RecordsKey:        "payrollOutputs",
			Parent:            "payroll_output",
			ParentContext:     map[string]string{"payroll_item_id": "itemID"},
			Params: map[string]string{
				"level":   "acc-all",
				"$filter": "itemID eq {payroll_item_id}",
			},
			Skippable: []SkippableCondition{
				// the payroll landed in a rejected state and its acc-all data
				// never finishes materializing
				{Status: 404, MessageContains: "still loading the acc-all payroll data"},
				{Status: 400, MessageContains: "Mass Processing is currently Disabled"},
				{Status: 400, CodeValue: "PAYGEN00030"},
			},
			Schema: objectSchema(map[string]interface{}{
				"itemID":                     stringType(),
				"payrollScheduleReference":   objectType(),
				"payPeriodEndDate":           stringType(),
				"payrollAccumulationOutputs": arrayType(),
			}),
		},
	}
}

func objectSchema(props map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": true,
	}
}

func stringType() map[string]interface{} {
	return map[string]interface{}{"type": []string{"string", "null"}}
}

func objectType() map[string]interface{} {
	return map[string]interface{}{"type": []string{"object", "null"}, "additionalProperties": true}
}

func arrayType() map[string]interface{} {
	return map[string]interface{}{"type": []string{"array", "null"}}
}
