package ingest

import (
	"fmt"
	"strings"

	corev1 "k8s.io/api/core/v1"
	storagev1 "k8s.io/api/storage/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"

	"github.com/moolen/voldiag/internal/kgraph"
)

// CSIBaremetalGroup is the API group of the bare-metal CSI custom resources.
const CSIBaremetalGroup = "csi-baremetal.dell.com"

// NodeIDAnnotation carries the CSI node id on Kubernetes nodes. Drives,
// volumes and capacities reference nodes by this id; nodes without the
// annotation fall back to their UID.
const NodeIDAnnotation = "csi-baremetal.dell.com/node-id"

type handlerFunc func(b *builder, obj *unstructured.Unstructured) error

// kindHandler turns one resource kind into graph entities and edges.
// entity runs for every object before any relate call.
type kindHandler struct {
	group  string
	kind   string
	entity handlerFunc
	relate handlerFunc
}

var handlers = []*kindHandler{
	{group: "", kind: "Pod", entity: podEntity, relate: podRelate},
	{group: "", kind: "PersistentVolumeClaim", entity: pvcEntity, relate: pvcRelate},
	{group: "", kind: "PersistentVolume", entity: pvEntity, relate: pvRelate},
	{group: "", kind: "Node", entity: nodeEntity},
	{group: storagev1.GroupName, kind: "StorageClass", entity: storageClassEntity, relate: storageClassRelate},
	{group: storagev1.GroupName, kind: "CSIDriver", entity: csiDriverEntity},
	{group: CSIBaremetalGroup, kind: "Drive", entity: driveEntity, relate: driveRelate},
	{group: CSIBaremetalGroup, kind: "Volume", entity: volumeEntity, relate: volumeRelate},
	{group: CSIBaremetalGroup, kind: "LogicalVolumeGroup", entity: lvgEntity, relate: lvgRelate},
	{group: CSIBaremetalGroup, kind: "AvailableCapacity", entity: acEntity, relate: acRelate},
}

func handlerFor(obj *unstructured.Unstructured) *kindHandler {
	gvk := obj.GroupVersionKind()
	for _, h := range handlers {
		if h.group == gvk.Group && h.kind == gvk.Kind {
			return h
		}
	}
	return nil
}

// SupportedKinds lists the group/kind pairs manifests can contain.
func SupportedKinds() []string {
	out := make([]string, 0, len(handlers))
	for _, h := range handlers {
		if h.group == "" {
			out = append(out, h.kind)
			continue
		}
		out = append(out, h.kind+"."+h.group)
	}
	return out
}

// entityID builds the canonical id of a manifest entity.
func entityID(typ kgraph.EntityType, namespace, name string) string {
	if namespace != "" {
		return string(typ) + ":" + namespace + "/" + name
	}
	return string(typ) + ":" + name
}

func objectID(typ kgraph.EntityType, obj *unstructured.Unstructured) string {
	return entityID(typ, obj.GetNamespace(), obj.GetName())
}

func convert[T any](obj *unstructured.Unstructured) (*T, error) {
	var out T
	if err := runtime.DefaultUnstructuredConverter.FromUnstructured(obj.Object, &out); err != nil {
		return nil, fmt.Errorf("failed to convert %s: %w", obj.GetKind(), err)
	}
	return &out, nil
}

func specString(obj *unstructured.Unstructured, field string) string {
	v, _, _ := unstructured.NestedString(obj.Object, "spec", field)
	return v
}

func specStrings(obj *unstructured.Unstructured, field string) []string {
	v, _, _ := unstructured.NestedStringSlice(obj.Object, "spec", field)
	return v
}

// specInt tolerates float64 values, which is what YAML documents decode to.
func specInt(obj *unstructured.Unstructured, field string) int64 {
	v, found, err := unstructured.NestedFieldNoCopy(obj.Object, "spec", field)
	if !found || err != nil {
		return 0
	}
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}

// Core resources.

func podEntity(b *builder, obj *unstructured.Unstructured) error {
	pod, err := convert[corev1.Pod](obj)
	if err != nil {
		return err
	}
	id := objectID(kgraph.EntityPod, obj)
	b.entity(kgraph.EntityPod, id, pod.Name, pod.Namespace, map[string]any{
		"uid":   string(pod.UID),
		"phase": string(pod.Status.Phase),
		"node":  pod.Spec.NodeName,
	})
	if pod.Status.Phase == corev1.PodPending {
		b.issue(id, string(kgraph.LayerKubernetes), "pod_status", string(kgraph.SeverityMedium),
			"Pod is Pending", podConditionMessage(pod))
	}
	if pod.Status.Phase == corev1.PodFailed {
		b.issue(id, string(kgraph.LayerKubernetes), "pod_status", string(kgraph.SeverityHigh),
			"Pod has Failed", pod.Status.Message)
	}
	return nil
}

func podConditionMessage(pod *corev1.Pod) string {
	for _, c := range pod.Status.Conditions {
		if c.Status != corev1.ConditionTrue && c.Message != "" {
			return c.Message
		}
	}
	return ""
}

func podRelate(b *builder, obj *unstructured.Unstructured) error {
	pod, err := convert[corev1.Pod](obj)
	if err != nil {
		return err
	}
	id := objectID(kgraph.EntityPod, obj)
	for _, v := range pod.Spec.Volumes {
		if v.PersistentVolumeClaim == nil {
			continue
		}
		pvc := entityID(kgraph.EntityPVC, pod.Namespace, v.PersistentVolumeClaim.ClaimName)
		if _, ok := b.g.Entity(pvc); ok {
			b.relate(id, pvc, kgraph.RelUses)
		}
	}
	if node := b.resolve(kgraph.EntityNode, pod.Spec.NodeName); node != "" {
		b.relate(id, node, kgraph.RelScheduled)
	}
	return nil
}

func pvcEntity(b *builder, obj *unstructured.Unstructured) error {
	pvc, err := convert[corev1.PersistentVolumeClaim](obj)
	if err != nil {
		return err
	}
	id := objectID(kgraph.EntityPVC, obj)
	attrs := map[string]any{
		"uid":    string(pvc.UID),
		"phase":  string(pvc.Status.Phase),
		"volume": pvc.Spec.VolumeName,
	}
	if pvc.Spec.StorageClassName != nil {
		attrs["storage_class"] = *pvc.Spec.StorageClassName
	}
	b.entity(kgraph.EntityPVC, id, pvc.Name, pvc.Namespace, attrs)

	switch pvc.Status.Phase {
	case corev1.ClaimPending:
		b.issue(id, string(kgraph.LayerKubernetes), "pvc", string(kgraph.SeverityMedium),
			"PVC is Pending", "")
	case corev1.ClaimLost:
		b.issue(id, string(kgraph.LayerKubernetes), "pvc", string(kgraph.SeverityHigh),
			"PVC has lost its volume", "")
	}
	return nil
}

func pvcRelate(b *builder, obj *unstructured.Unstructured) error {
	pvc, err := convert[corev1.PersistentVolumeClaim](obj)
	if err != nil {
		return err
	}
	id := objectID(kgraph.EntityPVC, obj)
	if pv := b.resolve(kgraph.EntityPV, pvc.Spec.VolumeName); pv != "" {
		b.relate(id, pv, kgraph.RelBoundTo)
	}
	if pvc.Spec.StorageClassName != nil {
		if sc := b.resolve(kgraph.EntityStorageClass, *pvc.Spec.StorageClassName); sc != "" {
			b.relate(id, sc, kgraph.RelProvisions)
		}
	}
	return nil
}

func pvEntity(b *builder, obj *unstructured.Unstructured) error {
	pv, err := convert[corev1.PersistentVolume](obj)
	if err != nil {
		return err
	}
	attrs := map[string]any{
		"uid":           string(pv.UID),
		"phase":         string(pv.Status.Phase),
		"storage_class": pv.Spec.StorageClassName,
	}
	if pv.Spec.CSI != nil {
		attrs["csi_driver"] = pv.Spec.CSI.Driver
		attrs["volume_handle"] = pv.Spec.CSI.VolumeHandle
	}
	id := objectID(kgraph.EntityPV, obj)
	b.entity(kgraph.EntityPV, id, pv.Name, "", attrs)
	if pv.Status.Phase == corev1.VolumeFailed {
		b.issue(id, string(kgraph.LayerKubernetes), "pv", string(kgraph.SeverityHigh),
			"PV is Failed", pv.Status.Message)
	}
	return nil
}

func pvRelate(b *builder, obj *unstructured.Unstructured) error {
	pv, err := convert[corev1.PersistentVolume](obj)
	if err != nil {
		return err
	}
	if pv.Spec.CSI == nil {
		return nil
	}
	id := objectID(kgraph.EntityPV, obj)

	vol, ok := b.g.ResolveEntity(kgraph.EntityVolume, pv.Spec.CSI.VolumeHandle)
	if !ok {
		return nil
	}
	b.relate(id, vol.ID, kgraph.RelMapsTo)
	for _, drive := range b.drivesFor(vol.Attr("location")) {
		b.relate(id, drive, kgraph.RelMapsTo)
	}
	return nil
}

func nodeEntity(b *builder, obj *unstructured.Unstructured) error {
	node, err := convert[corev1.Node](obj)
	if err != nil {
		return err
	}
	uuid := node.Annotations[NodeIDAnnotation]
	if uuid == "" {
		uuid = string(node.UID)
	}
	id := objectID(kgraph.EntityNode, obj)

	ready := "Unknown"
	for _, c := range node.Status.Conditions {
		if c.Type == corev1.NodeReady {
			ready = string(c.Status)
		}
	}
	b.entity(kgraph.EntityNode, id, node.Name, "", map[string]any{
		"uuid":  uuid,
		"ready": ready,
	})
	if ready == string(corev1.ConditionFalse) {
		b.issue(id, string(kgraph.LayerKubernetes), "node_status", string(kgraph.SeverityHigh),
			"Node is NotReady", "")
	}
	return nil
}

// Storage API resources.

func storageClassEntity(b *builder, obj *unstructured.Unstructured) error {
	sc, err := convert[storagev1.StorageClass](obj)
	if err != nil {
		return err
	}
	attrs := map[string]any{"provisioner": sc.Provisioner}
	if sc.VolumeBindingMode != nil {
		attrs["volume_binding_mode"] = string(*sc.VolumeBindingMode)
	}
	b.entity(kgraph.EntityStorageClass, objectID(kgraph.EntityStorageClass, obj), sc.Name, "", attrs)
	return nil
}

func storageClassRelate(b *builder, obj *unstructured.Unstructured) error {
	sc, err := convert[storagev1.StorageClass](obj)
	if err != nil {
		return err
	}
	if drv := b.resolve(kgraph.EntityCSIDriver, sc.Provisioner); drv != "" {
		b.relate(objectID(kgraph.EntityStorageClass, obj), drv, kgraph.RelUses)
	}
	return nil
}

func csiDriverEntity(b *builder, obj *unstructured.Unstructured) error {
	drv, err := convert[storagev1.CSIDriver](obj)
	if err != nil {
		return err
	}
	attrs := map[string]any{}
	if drv.Spec.AttachRequired != nil {
		attrs["attach_required"] = *drv.Spec.AttachRequired
	}
	b.entity(kgraph.EntityCSIDriver, objectID(kgraph.EntityCSIDriver, obj), drv.Name, "", attrs)
	return nil
}

// Bare-metal CSI resources. Their spec fields are capitalised.

func driveEntity(b *builder, obj *unstructured.Unstructured) error {
	uuid := specString(obj, "UUID")
	if uuid == "" {
		uuid = obj.GetName()
	}
	health := specString(obj, "Health")
	status := specString(obj, "Status")
	path := specString(obj, "Path")

	id := objectID(kgraph.EntityDrive, obj)
	b.entity(kgraph.EntityDrive, id, obj.GetName(), "", map[string]any{
		"uuid":          uuid,
		"health":        health,
		"status":        status,
		"path":          path,
		"serial_number": specString(obj, "SerialNumber"),
		"node_id":       specString(obj, "NodeId"),
		"size":          specInt(obj, "Size"),
	})

	evidence := fmt.Sprintf("drive %s path=%s serial=%s", uuid, path, specString(obj, "SerialNumber"))
	switch strings.ToUpper(health) {
	case "BAD":
		b.issue(id, string(kgraph.LayerStorage), "drive_health", string(kgraph.SeverityCritical),
			"Drive Health: BAD", evidence)
	case "SUSPECT":
		b.issue(id, string(kgraph.LayerStorage), "drive_health", string(kgraph.SeverityHigh),
			"Drive Health: SUSPECT", evidence)
	}
	if strings.EqualFold(status, "OFFLINE") {
		b.issue(id, string(kgraph.LayerStorage), "drive_status", string(kgraph.SeverityCritical),
			"Drive Status: OFFLINE", evidence)
	}
	return nil
}

func driveRelate(b *builder, obj *unstructured.Unstructured) error {
	if node := b.resolve(kgraph.EntityNode, specString(obj, "NodeId")); node != "" {
		b.relate(objectID(kgraph.EntityDrive, obj), node, kgraph.RelLocatedOn)
	}
	return nil
}

func volumeEntity(b *builder, obj *unstructured.Unstructured) error {
	volID := specString(obj, "Id")
	if volID == "" {
		volID = obj.GetName()
	}
	health := specString(obj, "Health")
	csiStatus := specString(obj, "CSIStatus")

	id := objectID(kgraph.EntityVolume, obj)
	b.entity(kgraph.EntityVolume, id, obj.GetName(), obj.GetNamespace(), map[string]any{
		"uuid":       volID,
		"location":   specString(obj, "Location"),
		"node_id":    specString(obj, "NodeId"),
		"health":     health,
		"csi_status": csiStatus,
		"size":       specInt(obj, "Size"),
	})
	if strings.EqualFold(health, "BAD") {
		b.issue(id, string(kgraph.LayerStorage), "volume_health", string(kgraph.SeverityHigh),
			"Volume Health: BAD", "")
	}
	if strings.EqualFold(csiStatus, "FAILED") {
		b.issue(id, string(kgraph.LayerStorage), "volume_status", string(kgraph.SeverityHigh),
			"Volume CSIStatus: FAILED", "")
	}
	return nil
}

func volumeRelate(b *builder, obj *unstructured.Unstructured) error {
	id := objectID(kgraph.EntityVolume, obj)
	location := specString(obj, "Location")
	if lvg := b.resolve(kgraph.EntityLVG, location); lvg != "" {
		b.relate(id, lvg, kgraph.RelLocatedOn)
	}
	for _, drive := range b.drivesFor(location) {
		b.relate(id, drive, kgraph.RelLocatedOn)
	}
	return nil
}

func lvgEntity(b *builder, obj *unstructured.Unstructured) error {
	health := specString(obj, "Health")
	id := objectID(kgraph.EntityLVG, obj)
	b.entity(kgraph.EntityLVG, id, obj.GetName(), "", map[string]any{
		"node":      specString(obj, "Node"),
		"locations": specStrings(obj, "Locations"),
		"health":    health,
		"size":      specInt(obj, "Size"),
	})
	if strings.EqualFold(health, "BAD") {
		b.issue(id, string(kgraph.LayerStorage), "lvg_health", string(kgraph.SeverityHigh),
			"LogicalVolumeGroup Health: BAD", "")
	}
	return nil
}

func lvgRelate(b *builder, obj *unstructured.Unstructured) error {
	id := objectID(kgraph.EntityLVG, obj)
	for _, loc := range specStrings(obj, "Locations") {
		if drive := b.resolve(kgraph.EntityDrive, loc); drive != "" {
			b.relate(id, drive, kgraph.RelLocatedOn)
		}
	}
	if node := b.resolve(kgraph.EntityNode, specString(obj, "Node")); node != "" {
		b.relate(id, node, kgraph.RelLocatedOn)
	}
	return nil
}

func acEntity(b *builder, obj *unstructured.Unstructured) error {
	b.entity(kgraph.EntityAvailableCapacity, objectID(kgraph.EntityAvailableCapacity, obj), obj.GetName(), "", map[string]any{
		"location":      specString(obj, "Location"),
		"node_id":       specString(obj, "NodeId"),
		"storage_class": specString(obj, "StorageClass"),
		"size":          specInt(obj, "Size"),
	})
	return nil
}

func acRelate(b *builder, obj *unstructured.Unstructured) error {
	id := objectID(kgraph.EntityAvailableCapacity, obj)
	if drive := b.resolve(kgraph.EntityDrive, specString(obj, "Location")); drive != "" {
		b.relate(id, drive, kgraph.RelLocatedOn)
	}
	if node := b.resolve(kgraph.EntityNode, specString(obj, "NodeId")); node != "" {
		b.relate(id, node, kgraph.RelLocatedOn)
	}
	return nil
}

// drivesFor returns the drives behind a volume location, which is either a
// drive UUID or the name of a logical volume group.
func (b *builder) drivesFor(location string) []string {
	if drive := b.resolve(kgraph.EntityDrive, location); drive != "" {
		return []string{drive}
	}
	lvg, ok := b.g.ResolveEntity(kgraph.EntityLVG, location)
	if !ok {
		return nil
	}
	locations, _ := lvg.Attributes["locations"].([]string)
	var out []string
	for _, loc := range locations {
		if drive := b.resolve(kgraph.EntityDrive, loc); drive != "" {
			out = append(out, drive)
		}
	}
	return out
}
